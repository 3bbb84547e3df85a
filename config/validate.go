package config

import (
	"fmt"
	"strings"

	"otpwallet/crypto"
	"otpwallet/native/commit"
	"otpwallet/native/otp"
	"otpwallet/native/wallet"
)

// Validate checks the configured bounds.
func (c *Config) Validate() error {
	w := c.Wallet
	if _, err := crypto.NewHasher(w.Hash); err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	if _, err := c.Convention(); err != nil {
		return err
	}
	if w.RevealMinDelaySeconds < 0 {
		return fmt.Errorf("wallet: reveal_min_delay_seconds < 0")
	}
	if w.RevealWindowSeconds <= w.RevealMinDelaySeconds {
		return fmt.Errorf("wallet: reveal_window_seconds must exceed reveal_min_delay_seconds")
	}
	if w.MaxTrackedTokens < 0 || w.MaxPendingCommits < 0 || w.MaxBacklinks < 0 || w.MaxSignatures < 0 {
		return fmt.Errorf("wallet: caps must not be negative")
	}
	if w.PruneIntervalSeconds < 0 {
		return fmt.Errorf("wallet: prune_interval_seconds < 0")
	}
	if strings.TrimSpace(c.RPC.Address) == "" {
		return fmt.Errorf("rpc: address required")
	}
	if c.RPC.RequestsPerSecond < 0 || c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}

// Hasher resolves the configured digest.
func (c *Config) Hasher() (crypto.Hasher, error) {
	return crypto.NewHasher(c.Wallet.Hash)
}

// Convention resolves the configured Merkle parity convention.
func (c *Config) Convention() (otp.Convention, error) {
	switch strings.ToLower(strings.TrimSpace(c.Wallet.ParityConvention)) {
	case "", "even-left":
		return otp.EvenLeft, nil
	case "even-right":
		return otp.EvenRight, nil
	default:
		return 0, fmt.Errorf("wallet: unknown parity_convention %q", c.Wallet.ParityConvention)
	}
}

// ToParams converts the wallet section into engine limits.
func (c *Config) ToParams() wallet.Params {
	w := c.Wallet
	return wallet.Params{
		Reveal: commit.Params{
			MinDelay:      w.RevealMinDelaySeconds,
			MaxWindow:     w.RevealWindowSeconds,
			SlotTolerance: w.SlotTolerance,
		},
		MaxTrackedTokens:       w.MaxTrackedTokens,
		MaxPendingCommits:      w.MaxPendingCommits,
		MaxBacklinks:           w.MaxBacklinks,
		MaxSignatures:          w.MaxSignatures,
		InvalidRevealThreshold: w.InvalidRevealThreshold,
	}
}
