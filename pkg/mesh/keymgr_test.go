/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iqyx/umeshfw/pkg/ratelimit"
	"github.com/iqyx/umeshfw/pkg/ucrypto"
	"github.com/iqyx/umeshfw/pkg/wire"
)

var errRNGUnavailable = errors.New("test: rng unavailable")

func TestKeySessionTableFindSessionPrefersManaged(t *testing.T) {
	tbl := NewKeySessionTable(4)

	ref, sess, err := tbl.StartSession(wire.TID(42), Ref{})
	require.NoError(t, err)
	require.Equal(t, KeyNew, sess.State)

	sess.mu.Lock()
	sess.State = KeyAuth
	sess.stateTimeoutMS = KeyTimeoutAuthMS
	sess.mu.Unlock()
	sess.Authorize(true)
	require.Equal(t, KeyAuthz, sess.State)

	_, found, ok := tbl.FindSession(wire.TID(42))
	require.False(t, ok, "AUTZ is not yet MANAGED")
	require.Nil(t, found)

	sess.mu.Lock()
	sess.State = KeyManaged
	sess.stateTimeoutMS = KeyTimeoutManagedMS
	sess.mu.Unlock()

	gotRef, got, ok := tbl.FindSession(wire.TID(42))
	require.True(t, ok)
	require.Equal(t, ref, gotRef)
	require.Same(t, sess, got)
}

func TestKeySessionStepTimesOutInitialAKEToNAuth(t *testing.T) {
	tbl := NewKeySessionTable(2)
	_, sess, err := tbl.StartSession(wire.TID(9), Ref{})
	require.NoError(t, err)

	identity, err := ucrypto.NewPrivateKey()
	require.NoError(t, err)
	limiter := ratelimit.New()
	defer limiter.Close()

	tbl.Step(1, stubRNG{}, identity, limiter)
	require.Equal(t, KeyInitialAKE, sess.State)

	tbl.Step(KeyTimeoutInitialAKEMS+1, stubRNG{}, identity, limiter)
	require.Equal(t, KeyNAuth, sess.State, "an exchange that never completes moves to NAUTH, per §4.6")
}

func TestKeySessionNewNeverExpiresWithoutRNGUntilTimeout(t *testing.T) {
	tbl := NewKeySessionTable(2)
	_, sess, err := tbl.StartSession(wire.TID(9), Ref{})
	require.NoError(t, err)

	identity, err := ucrypto.NewPrivateKey()
	require.NoError(t, err)
	limiter := ratelimit.New()
	defer limiter.Close()

	tbl.Step(1, failingRNG{}, identity, limiter)
	require.Equal(t, KeyNew, sess.State, "no RNG available: stay in NEW")

	tbl.Step(KeyTimeoutNewMS+1, failingRNG{}, identity, limiter)
	require.Equal(t, KeyOld, sess.State, "NEW times out to OLD per §8 scenario 5")
}

func TestForceExpireMovesManagedToExpired(t *testing.T) {
	tbl := NewKeySessionTable(2)
	ref, sess, err := tbl.StartSession(wire.TID(9), Ref{})
	require.NoError(t, err)

	sess.mu.Lock()
	sess.State = KeyManaged
	sess.stateTimeoutMS = KeyTimeoutManagedMS
	sess.mu.Unlock()

	tbl.ForceExpire(ref)
	require.Equal(t, KeyExpired, sess.State)
}

type failingRNG struct{}

func (failingRNG) Read(buf []byte) error {
	return errRNGUnavailable
}
