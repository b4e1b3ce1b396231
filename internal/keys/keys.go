package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ProgramID namespaces all derived addresses. Changing it invalidates every
// stored record, so it is versioned together with SeedPrefix.
const ProgramID = "coffee-futures"

// SeedPrefix versions the seed schema. All derivations start with it so a
// future "v2" schema can coexist with v1 records.
const SeedPrefix = "v1"

// Address is a 32-byte identifier for markets, deals, parties, mints, and
// token accounts. The zero value means "unset".
type Address [32]byte

var ZeroAddress Address

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText renders the address as hex so JSON payloads and map keys stay
// human-readable.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the hex form produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a 64-char hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse address: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("parse address: want %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Derive produces a deterministic address and a companion bump byte from the
// program ID and a seed list. Seeds are length-prefixed so ("ab","c") and
// ("a","bc") derive distinct addresses.
func Derive(seeds ...[]byte) (Address, uint8) {
	h := sha256.New()
	h.Write([]byte(ProgramID))
	for _, s := range seeds {
		var lenBuf [2]byte
		lenBuf[0] = byte(len(s))
		lenBuf[1] = byte(len(s) >> 8)
		h.Write(lenBuf[:])
		h.Write(s)
	}

	var addr Address
	copy(addr[:], h.Sum(nil))
	return addr, addr[31]
}

// MarketAddress derives the market record address from its role and token
// bindings: seeds("v1", "market", authority, cft_mint, quote_mint).
func MarketAddress(authority, cftMint, quoteMint Address) (Address, uint8) {
	return Derive([]byte(SeedPrefix), []byte("market"), authority[:], cftMint[:], quoteMint[:])
}

// DealAddress derives the deal record address:
// seeds("v1", "deal", market, farmer, buyer).
func DealAddress(market, farmer, buyer Address) (Address, uint8) {
	return Derive([]byte(SeedPrefix), []byte("deal"), market[:], farmer[:], buyer[:])
}

// VaultAuthAddress derives the per-deal vault signing capability:
// seeds("v1", "vault_auth", deal).
func VaultAuthAddress(deal Address) (Address, uint8) {
	return Derive([]byte(SeedPrefix), []byte("vault_auth"), deal[:])
}

// CftMintAuthAddress derives the delivery-token minting capability:
// seeds("v1", "cft_auth", cft_mint).
func CftMintAuthAddress(cftMint Address) (Address, uint8) {
	return Derive([]byte(SeedPrefix), []byte("cft_auth"), cftMint[:])
}

// SubAddress derives a child address under a parent record, used for the two
// margin vaults owned by a vault authority.
func SubAddress(parent Address, label string) (Address, uint8) {
	return Derive([]byte(SeedPrefix), []byte(label), parent[:])
}
