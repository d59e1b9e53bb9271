package analysis

import "strings"

// Address sanity checks for detector output. A detector that names a
// token with an implausible address is downgraded rather than trusted.

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// IsValidEVMAddress reports whether addr looks like an EVM address:
// 0x followed by exactly 40 hex digits.
func IsValidEVMAddress(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	for _, r := range addr[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// IsValidSolanaAddress reports whether addr looks like a Solana address:
// base58, 32 to 44 characters.
func IsValidSolanaAddress(addr string) bool {
	if len(addr) < 32 || len(addr) > 44 {
		return false
	}
	for _, r := range addr {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

// IsPlausibleTokenAddress applies the address check matching the chain.
// Unknown chains accept either format.
func IsPlausibleTokenAddress(chainName, addr string) bool {
	switch strings.ToLower(chainName) {
	case "solana":
		return IsValidSolanaAddress(addr)
	case "ethereum", "base", "arbitrum", "optimism", "polygon", "bsc", "binance smart chain":
		return IsValidEVMAddress(addr)
	default:
		return IsValidEVMAddress(addr) || IsValidSolanaAddress(addr)
	}
}
