// Copyright 2026 The hookmarket Authors
// This file is part of the hookmarket library.
//
// The hookmarket library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hookmarket library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hookmarket library. If not, see <http://www.gnu.org/licenses/>.

// Package config holds the environment-driven service configuration.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
	"github.com/fefe102/v4SessionHookMarkets/sigtypes"
)

// Asset modes select the payment-channel adapter implementation.
const (
	AssetModeMock = "mock"
	AssetModeReal = "real"
)

// Config is the full service configuration. Zero values are filled by
// Sanitize; cmd populates the rest from flags/environment.
type Config struct {
	Host    string
	Port    int
	DataDir string

	VerifierURL     string
	VerifierTimeout time.Duration

	AssetMode      string
	ClearnodeURL   string
	ClearnodeWSURL string
	PrivateKeyHex  string

	AssetSymbol   string
	AssetAddress  string
	AssetDecimals int32
	ChainID       int64

	MilestoneSplits int
	DemoActions     bool
	QuoteReward     string
	MaxQuoteRewards int

	BiddingWindow   time.Duration
	DeliveryWindow  time.Duration
	VerifyWindow    time.Duration
	ChallengeWindow time.Duration
	PatchWindow     time.Duration
	SweepInterval   time.Duration

	// OperatorAddress is the requester fallback (participants[0]) when a work
	// order carries no requester address. Derived from the private key when
	// one is configured.
	OperatorAddress string

	key *ecdsa.PrivateKey
}

// Default returns the configuration used when no environment is present:
// mock adapter, in-data-dir layout, demo-friendly windows.
func Default() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            3001,
		DataDir:         "data",
		VerifierURL:     "http://127.0.0.1:3002",
		VerifierTimeout: 5 * time.Minute,
		AssetMode:       AssetModeMock,
		AssetSymbol:     "u",
		AssetAddress:    "0x0000000000000000000000000000000000000001",
		AssetDecimals:   6,
		ChainID:         31337,
		MilestoneSplits: 1,
		QuoteReward:     "0.01",
		MaxQuoteRewards: 20,
		BiddingWindow:   2 * time.Minute,
		DeliveryWindow:  30 * time.Minute,
		VerifyWindow:    10 * time.Minute,
		ChallengeWindow: 5 * time.Minute,
		PatchWindow:     10 * time.Minute,
		SweepInterval:   5 * time.Second,
		OperatorAddress: "0x00000000000000000000000000000000000000fe",
	}
}

// Sanitize validates ranges, derives the operator address from the private
// key when present, and fills empty fields with defaults.
func (c *Config) Sanitize() error {
	def := Default()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.VerifierURL == "" {
		c.VerifierURL = def.VerifierURL
	}
	if c.VerifierTimeout == 0 {
		c.VerifierTimeout = def.VerifierTimeout
	}
	if c.AssetMode == "" {
		c.AssetMode = def.AssetMode
	}
	if c.AssetMode != AssetModeMock && c.AssetMode != AssetModeReal {
		return fmt.Errorf("config: unknown asset mode %q", c.AssetMode)
	}
	if c.AssetSymbol == "" {
		c.AssetSymbol = def.AssetSymbol
	}
	if c.AssetAddress == "" {
		c.AssetAddress = def.AssetAddress
	}
	if c.AssetDecimals == 0 {
		c.AssetDecimals = def.AssetDecimals
	}
	if c.AssetDecimals < 4 || c.AssetDecimals > 18 {
		return fmt.Errorf("config: asset decimals %d outside 4..18", c.AssetDecimals)
	}
	if c.ChainID == 0 {
		c.ChainID = def.ChainID
	}
	if c.MilestoneSplits == 0 {
		c.MilestoneSplits = def.MilestoneSplits
	}
	if c.MilestoneSplits < 1 || c.MilestoneSplits > 20 {
		return fmt.Errorf("config: milestone splits %d outside 1..20", c.MilestoneSplits)
	}
	if c.QuoteReward == "" {
		c.QuoteReward = def.QuoteReward
	}
	if c.MaxQuoteRewards == 0 {
		c.MaxQuoteRewards = def.MaxQuoteRewards
	}
	if c.BiddingWindow == 0 {
		c.BiddingWindow = def.BiddingWindow
	}
	if c.DeliveryWindow == 0 {
		c.DeliveryWindow = def.DeliveryWindow
	}
	if c.VerifyWindow == 0 {
		c.VerifyWindow = def.VerifyWindow
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = def.SweepInterval
	}
	// ChallengeWindow and PatchWindow may legitimately be zero (PATCH=0
	// disables the patch window), so only the negative range is invalid.
	if c.ChallengeWindow < 0 || c.PatchWindow < 0 {
		return fmt.Errorf("config: negative challenge or patch window")
	}

	if c.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKeyHex, "0x"))
		if err != nil {
			return fmt.Errorf("config: invalid private key: %w", err)
		}
		c.key = key
		c.OperatorAddress = types.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
	if c.OperatorAddress == "" {
		c.OperatorAddress = def.OperatorAddress
	}
	if c.AssetMode == AssetModeReal {
		if c.key == nil {
			return fmt.Errorf("config: real asset mode requires PRIVATE_KEY")
		}
		if c.ClearnodeWSURL == "" {
			return fmt.Errorf("config: real asset mode requires CLEARNODE_WS_URL")
		}
	}
	return nil
}

// PrivateKey returns the operator key, or nil in mock deployments.
func (c *Config) PrivateKey() *ecdsa.PrivateKey { return c.key }

// Domain is the signing domain shared by all marketplace messages.
func (c *Config) Domain() sigtypes.Domain {
	return sigtypes.Domain{
		Name:              "hookmarket",
		Version:           "1",
		ChainID:           c.ChainID,
		VerifyingContract: c.AssetAddress,
	}
}

// Paths inside the data directory.

func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "app.ldb") }
func (c *Config) EventLogPath() string { return filepath.Join(c.DataDir, "events.jsonl") }
func (c *Config) ReportsDir() string   { return filepath.Join(c.DataDir, "reports") }
func (c *Config) LogsDir() string      { return filepath.Join(c.DataDir, "logs") }

// ListenAddr is the host:port the API binds.
func (c *Config) ListenAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }
