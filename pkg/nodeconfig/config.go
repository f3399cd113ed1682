/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package nodeconfig loads and persists a node's local identity and
// bootstrap settings, a YAML-based adaptation of the teacher's
// manager.Config: the web-portal, invite-token, and UAPI-injection
// machinery are dropped (there is no IP-addressable interface or web
// portal in a radio mesh node per the expanded design's scope), leaving
// just the identity and radio bootstrap settings a umeshd process needs
// on disk.
package nodeconfig

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/iqyx/umeshfw/pkg/ucrypto"
)

// Config is a node's on-disk configuration.
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Radio    RadioConfig    `yaml:"radio"`
	Mesh     MeshConfig     `yaml:"mesh"`
}

// IdentityConfig holds the node's long-term X25519 static key, used as the
// static identity in every 3DH exchange (§4.4).
type IdentityConfig struct {
	PrivateKeyBase64 string `yaml:"private_key"`
}

// RadioConfig carries the bootstrap parameters a concrete Radio
// implementation needs, left generic here since board/driver behaviour is
// out of scope (§1).
type RadioConfig struct {
	Device     string `yaml:"device"`
	Channel    int    `yaml:"channel"`
	TxPowerDBm int8   `yaml:"tx_power_dbm"`
}

// MeshConfig carries the tunable stack parameters exposed to operators.
type MeshConfig struct {
	MaxNeighbours  int   `yaml:"max_neighbours"`
	MaxKeySessions int   `yaml:"max_key_sessions"`
	TIDRotationMS  int64 `yaml:"tid_rotation_ms"`
}

var configLock sync.RWMutex

// EnsureIdentity generates a fresh static key if none is present, mirroring
// the teacher's Config.EnsureIdentity but over an X25519 key instead of a
// WireGuard Curve25519 tunnel key (the same curve, different role).
func (c *Config) EnsureIdentity() (bool, error) {
	configLock.Lock()
	defer configLock.Unlock()

	if c.Identity.PrivateKeyBase64 != "" {
		return false, nil
	}
	sk, err := ucrypto.NewPrivateKey()
	if err != nil {
		return false, err
	}
	c.Identity.PrivateKeyBase64 = base64.StdEncoding.EncodeToString(sk[:])
	return true, nil
}

// PrivateKey decodes the stored identity key.
func (c *Config) PrivateKey() (ucrypto.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(c.Identity.PrivateKeyBase64)
	if err != nil {
		return ucrypto.PrivateKey{}, fmt.Errorf("nodeconfig: decode private key: %w", err)
	}
	if len(raw) != ucrypto.KeySize {
		return ucrypto.PrivateKey{}, fmt.Errorf("nodeconfig: private key must be %d bytes, got %d", ucrypto.KeySize, len(raw))
	}
	var sk ucrypto.PrivateKey
	copy(sk[:], raw)
	return sk, nil
}

func defaultConfig() *Config {
	return &Config{
		Radio: RadioConfig{Channel: 0, TxPowerDBm: 0},
		Mesh: MeshConfig{
			MaxNeighbours:  32,
			MaxKeySessions: 32,
			TIDRotationMS:  300_000,
		},
	}
}

// Load reads the node config at path, returning a fresh default config if
// the file does not yet exist.
func Load(path string) (*Config, error) {
	configLock.RLock()
	defer configLock.RUnlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nodeconfig: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("nodeconfig: parse %s: %w", path, err)
	}
	return &c, nil
}

// Save atomically writes c to path (write-temp-then-rename, matching the
// teacher's SaveConfig).
func Save(path string, c *Config) error {
	configLock.Lock()
	defer configLock.Unlock()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("nodeconfig: mkdir %s: %w", dir, err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
