/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/iqyx/umeshfw/pkg/ratelimit"
	"github.com/iqyx/umeshfw/pkg/ucrypto"
	"github.com/iqyx/umeshfw/pkg/wire"
)

// Default table sizes, all fixed at construction time per §5's
// no-dynamic-growth rule.
const (
	DefaultMaxNeighbours  = 32
	DefaultMaxKeySessions = 32
)

// Config is the set of parameters a Stack needs at construction time,
// mirroring the teacher's NewDevice(tunDevice, bind, logger) shape.
type Config struct {
	Radio    Radio
	RNG      RNG
	Identity ucrypto.PrivateKey
	Logger   *Logger

	MaxNeighbours        int
	MaxKeySessions       int
	TIDRotationMS        int64
	AdvertisedTxPowerDBm int8
}

// Stack is the root object owning every uMesh component (C1-C12):
// the neighbour table, key-manager session table, discovery, the L3
// protocol registry, and the status broadcaster, all driven by a single
// Step call instead of the teacher's one-goroutine-per-routine model
// (Design Notes §9: "collapse the routine-per-feature model into a
// single deterministic Step(now) entry point... for virtual-time tests").
type Stack struct {
	log *Logger

	radio    Radio
	rng      RNG
	identity ucrypto.PrivateKey

	neighbours  *NeighbourTable
	keySessions *KeySessionTable
	discovery   *Discovery
	registry    *Registry
	status      *StatusBroadcaster
	akeLimiter  *ratelimit.Limiter

	ftMu          sync.Mutex
	fileTransfers map[wire.TID]*FileTransferSession

	txPowerDBm int8
	lastStep   time.Time
}

// NewStack builds a Stack ready to Step, allocating every fixed-size table
// up front.
func NewStack(cfg Config) (*Stack, error) {
	if cfg.MaxNeighbours <= 0 {
		cfg.MaxNeighbours = DefaultMaxNeighbours
	}
	if cfg.MaxKeySessions <= 0 {
		cfg.MaxKeySessions = DefaultMaxKeySessions
	}
	if cfg.Logger == nil {
		cfg.Logger = NewLogger("mesh")
	}

	disc, err := NewDiscovery(cfg.RNG, cfg.TIDRotationMS)
	if err != nil {
		return nil, err
	}

	s := &Stack{
		log:           cfg.Logger,
		radio:         cfg.Radio,
		rng:           cfg.RNG,
		identity:      cfg.Identity,
		neighbours:    NewNeighbourTable(cfg.MaxNeighbours),
		keySessions:   NewKeySessionTable(cfg.MaxKeySessions),
		discovery:     disc,
		registry:      NewRegistry(),
		status:        &StatusBroadcaster{},
		akeLimiter:    ratelimit.New(),
		fileTransfers: make(map[wire.TID]*FileTransferSession),
		txPowerDBm:    cfg.AdvertisedTxPowerDBm,
	}
	_ = s.registry.Register(ProtoAKE, s.handleAKE)
	_ = s.registry.Register(ProtoFileTransfer, s.handleFileTransfer)
	return s, nil
}

// handleAKE dispatches an inbound proto-AKE payload to the key session
// table's session-id-keyed matcher, sending back whatever reply
// HandleMessage produces (non-nil only for inbound requests).
func (s *Stack) handleAKE(src wire.TID, broadcast bool, payload []byte) {
	if broadcast {
		return
	}
	msg, err := DecodeAKEMessage(payload)
	if err != nil {
		s.log.Verbosef("ake: malformed message from %d: %v", src, err)
		return
	}
	ref, _ := s.neighbours.LookupRef(src)
	reply, err := s.keySessions.HandleMessage(src, ref, msg, s.identity)
	if err != nil {
		s.log.Verbosef("ake: could not handle message from %d: %v", src, err)
		return
	}
	if reply != nil {
		if err := s.Send(src, false, ProtoAKE, wire.ClassNone, EncodeAKEMessage(*reply)); err != nil {
			s.log.Verbosef("ake: reply to %d failed: %v", src, err)
		}
	}
}

// handleFileTransfer routes an inbound proto-file-transfer payload to the
// matching session, if one already exists for its source TID.
// Unsolicited inbound messages (the §4.8 EMPTY->PEER path) are dropped:
// this implementation only opens a session via SendFile/ReceiveFile,
// which needs a caller-supplied FileBackend the stack has no way to
// conjure for an unexpected peer.
func (s *Stack) handleFileTransfer(src wire.TID, broadcast bool, payload []byte) {
	if broadcast {
		return
	}
	kind, sessionID, _, ok := peekFileMessage(payload)
	if !ok {
		s.log.Verbosef("filetransfer: malformed message from %d", src)
		return
	}

	s.ftMu.Lock()
	sess, have := s.fileTransfers[src]
	s.ftMu.Unlock()
	if !have || sess.SessionID != sessionID {
		s.log.Verbosef("filetransfer: no session for %d (kind=%d)", src, kind)
		return
	}

	for _, out := range sess.HandleMessage(kind, payload) {
		if err := s.Send(src, false, ProtoFileTransfer, wire.ClassAuthenticatedEncrypted, out); err != nil {
			s.log.Verbosef("filetransfer: reply to %d failed: %v", src, err)
		}
	}
	if sess.Done() {
		s.ftMu.Lock()
		delete(s.fileTransfers, src)
		s.ftMu.Unlock()
	}
}

// SendFile offers name to dst, opening backend for reading and starting a
// FILE_METADATA advertisement loop (§4.8's send_file operation, C7).
func (s *Stack) SendFile(dst wire.TID, name string, backend FileBackend) error {
	sessionID, err := randomFileSessionID(s.rng)
	if err != nil {
		return err
	}
	sess, err := NewSenderSession(sessionID, dst, backend, name)
	if err != nil {
		return err
	}
	s.ftMu.Lock()
	defer s.ftMu.Unlock()
	s.fileTransfers[dst] = sess
	return nil
}

// ReceiveFile prepares to pull name from dst, starting a FILE_REQUEST
// polling loop (§4.8's receive_file operation, C7).
func (s *Stack) ReceiveFile(dst wire.TID, name string, backend FileBackend) error {
	sessionID, err := randomFileSessionID(s.rng)
	if err != nil {
		return err
	}
	sess := NewReceiverSession(sessionID, dst, backend, name)
	s.ftMu.Lock()
	defer s.ftMu.Unlock()
	s.fileTransfers[dst] = sess
	return nil
}

func randomFileSessionID(rng RNG) ([sessionIDLen]byte, error) {
	var id [sessionIDLen]byte
	if err := rng.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// Close releases background resources (the AKE rate limiter's garbage
// collector goroutine).
func (s *Stack) Close() {
	s.akeLimiter.Close()
}

// LocalTID returns the stack's currently active TID.
func (s *Stack) LocalTID() wire.TID {
	return s.discovery.LocalTID()
}

// RegisterHandler installs fn as the handler for an application-level L3
// protocol id (C10). Reserved ids 0-3 (discovery, file transfer, status,
// AKE) cannot be overridden.
func (s *Stack) RegisterHandler(proto uint8, fn ProtoHandler) error {
	if proto == ProtoDiscovery || proto == ProtoFileTransfer || proto == ProtoStatus || proto == ProtoAKE {
		return ErrUnknownProto
	}
	return s.registry.Register(proto, fn)
}

// Step is the single entry point driving every timed component one tick
// forward and pumping exactly one inbound frame, if the Radio has one
// ready — matching the half-duplex MAC's one-frame-at-a-time contract
// (§5).
func (s *Stack) Step(ctx context.Context, now time.Time) error {
	var elapsedMS int64
	if !s.lastStep.IsZero() {
		elapsedMS = now.Sub(s.lastStep).Milliseconds()
	}
	s.lastStep = now

	s.neighbours.Step(elapsedMS)
	s.manageNewNeighbours()
	for _, p := range s.keySessions.Step(elapsedMS, s.rng, s.identity, s.akeLimiter) {
		if err := s.Send(p.PeerTID, false, ProtoAKE, wire.ClassNone, EncodeAKEMessage(p.Msg)); err != nil {
			s.log.Verbosef("ake: send to %d failed: %v", p.PeerTID, err)
		}
	}

	s.stepFileTransfers(elapsedMS)

	adv := AdvBasic{TxPowerDBm: s.advertisedTxPower(), Capability: 0}
	if frame, _, err := s.discovery.Step(elapsedMS, adv); err == nil && frame != nil {
		if err := s.Send(0, true, ProtoDiscovery, wire.ClassNone, frame); err != nil {
			s.log.Verbosef("discovery broadcast failed: %v", err)
		}
	}

	if payload, due := s.status.Step(elapsedMS, s.statusSnapshot); due {
		if err := s.Send(0, true, ProtoStatus, wire.ClassNone, payload); err != nil {
			s.log.Verbosef("status broadcast failed: %v", err)
		}
	}

	buf := make([]byte, wire.MaxFrameSize)
	n, meta, ok, err := s.radio.Recv(ctx, buf)
	if err != nil {
		return err
	}
	if ok {
		s.receive(buf[:n], meta)
	}
	return nil
}

// stepFileTransfers ticks every in-flight file-transfer session and sends
// whatever wire messages each one produces, reaping sessions that finish
// or fail this tick.
func (s *Stack) stepFileTransfers(elapsedMS int64) {
	s.ftMu.Lock()
	sessions := make(map[wire.TID]*FileTransferSession, len(s.fileTransfers))
	for tid, sess := range s.fileTransfers {
		sessions[tid] = sess
	}
	s.ftMu.Unlock()

	var done []wire.TID
	for tid, sess := range sessions {
		for _, out := range sess.Step(elapsedMS) {
			if err := s.Send(tid, false, ProtoFileTransfer, wire.ClassAuthenticatedEncrypted, out); err != nil {
				s.log.Verbosef("filetransfer: send to %d failed: %v", tid, err)
			}
		}
		if sess.Done() {
			done = append(done, tid)
		}
	}

	if len(done) == 0 {
		return
	}
	s.ftMu.Lock()
	for _, tid := range done {
		delete(s.fileTransfers, tid)
	}
	s.ftMu.Unlock()
}

// manageNewNeighbours starts a key-manager session for every neighbour
// still in NEW state that doesn't already have one, and promotes it to
// VALID — the "NEW -> VALID once the key manager is asked to manage the
// peer" transition (§3) — and additionally starts a fresh session for any
// neighbour whose current best session has gone terminal (failed
// authentication, expired, or aged out), so a managed peer whose keys
// stop being usable gets re-keyed automatically rather than staying
// stuck.
func (s *Stack) manageNewNeighbours() {
	s.neighbours.mu.RLock()
	var candidates []Ref
	s.neighbours.arena.Each(func(ref Ref, n *Neighbour) {
		n.mu.Lock()
		isNew := n.State == NeighbourNew
		sessionRef := n.bestKeySession
		n.mu.Unlock()

		if isNew && !sessionRef.Valid() {
			candidates = append(candidates, ref)
			return
		}
		if sessionRef.Valid() {
			if sess, ok := s.keySessions.arena.Get(sessionRef); ok && sess.IsTerminal() {
				candidates = append(candidates, ref)
			}
		}
	})
	s.neighbours.mu.RUnlock()

	for _, ref := range candidates {
		n, ok := s.neighbours.arena.Get(ref)
		if !ok {
			continue
		}
		sessionRef, _, err := s.keySessions.StartSession(n.TID, ref)
		if err != nil {
			continue
		}
		s.neighbours.MarkManaged(n, sessionRef)
	}
}

func (s *Stack) advertisedTxPower() int8 {
	return s.txPowerDBm
}

func (s *Stack) statusSnapshot() StatusPayload {
	used := 0
	s.keySessions.arena.Each(func(Ref, *KeySession) { used++ })
	free := s.keySessions.arena.Cap() - used
	if free < 0 {
		free = 0
	}
	neighbourCount := 0
	s.neighbours.arena.Each(func(Ref, *Neighbour) { neighbourCount++ })
	return StatusPayload{
		UptimeSeconds:  uint32(s.lastStep.Unix()),
		NeighbourCount: uint8(neighbourCount),
		FreeKeySlots:   uint8(free),
	}
}
