package config

import (
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
)

var evmAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateWalletAddress checks that addr is either a Solana address (base58,
// 32-byte ed25519 public key) or an EVM address (0x + 40 hex chars). The
// gateway accepts payments on both chain families, so either form works as
// payTo.
func ValidateWalletAddress(addr string) error {
	if evmAddressRegex.MatchString(addr) {
		return nil
	}

	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid wallet address %q: not an EVM address and base58 decode failed: %w", addr, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("invalid wallet address %q: decoded to %d bytes, expected 32", addr, len(decoded))
	}
	return nil
}
