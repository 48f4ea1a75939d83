// Package accountcode generates and validates the per-email account code secret.
package accountcode

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Length of an encoded account code: 0x plus 32 bytes of hex
const Length = 2 + 2*fr.Bytes

// Generate returns a uniformly random BN254 scalar field element as 0x-prefixed big-endian hex
func Generate() (string, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return "", fmt.Errorf("failed to sample account code: %w", err)
	}
	b := e.Bytes()
	return hexutil.Encode(b[:]), nil
}

// Valid reports whether code is a 0x-prefixed 32-byte value inside the scalar field
func Valid(code string) bool {
	if !strings.HasPrefix(code, "0x") || len(code) != Length {
		return false
	}
	b, err := hexutil.Decode(code)
	if err != nil {
		return false
	}
	return new(big.Int).SetBytes(b).Cmp(fr.Modulus()) < 0
}

// Reusable reports whether a stored code may be offered for reuse.
// Legacy codes that are not 0x-prefixed are never reused.
func Reusable(code string) bool {
	return strings.HasPrefix(code, "0x")
}

// ToHash converts a code into the bytes32 the relayer expects
func ToHash(code string) (common.Hash, error) {
	if !Valid(code) {
		return common.Hash{}, fmt.Errorf("invalid account code %q", code)
	}
	return common.HexToHash(code), nil
}

// Store is the subset of the persistent store used to resolve codes
type Store interface {
	AccountCode(email string) (string, bool, error)
	SaveAccountCode(email, code string) error
}

// Resolution describes where a resolved account code came from
type Resolution struct {
	Code  string
	Reuse bool
}

// Resolve returns the account code to use for email.
// The stored code is reused when it is reusable and forceNew is false,
// otherwise a fresh code is generated and overwrites the stored one.
func Resolve(store Store, email string, forceNew bool) (Resolution, error) {
	if email == "" {
		return Resolution{}, fmt.Errorf("email address is required")
	}

	if !forceNew {
		existing, ok, err := store.AccountCode(email)
		if err != nil {
			return Resolution{}, fmt.Errorf("failed to read account code: %w", err)
		}
		if ok && Reusable(existing) {
			return Resolution{Code: existing, Reuse: true}, nil
		}
	}

	code, err := Generate()
	if err != nil {
		return Resolution{}, err
	}
	if err := store.SaveAccountCode(email, code); err != nil {
		return Resolution{}, fmt.Errorf("failed to save account code: %w", err)
	}
	return Resolution{Code: code}, nil
}
