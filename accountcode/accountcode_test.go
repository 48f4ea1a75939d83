package accountcode

import (
	"errors"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	codes   map[string]string
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{codes: make(map[string]string)}
}

func (m *memStore) AccountCode(email string) (string, bool, error) {
	code, ok := m.codes[email]
	return code, ok, nil
}

func (m *memStore) SaveAccountCode(email, code string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.codes[email] = code
	return nil
}

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		code, err := Generate()
		require.NoError(t, err)
		require.Len(t, code, Length)
		require.True(t, Valid(code), code)

		b, err := hexutil.Decode(code)
		require.NoError(t, err)
		require.Equal(t, -1, new(big.Int).SetBytes(b).Cmp(fr.Modulus()))

		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestValid(t *testing.T) {
	require.False(t, Valid("ABCDEF12"))
	require.False(t, Valid("0x1234"))

	modulus := hexutil.Encode(fr.Modulus().FillBytes(make([]byte, fr.Bytes)))
	require.False(t, Valid(modulus), "modulus is outside the field")

	_, err := ToHash("0xzz")
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Run("GeneratesWhenMissing", func(t *testing.T) {
		store := newMemStore()
		res, err := Resolve(store, "a@b.com", false)
		require.NoError(t, err)
		require.False(t, res.Reuse)
		require.Equal(t, res.Code, store.codes["a@b.com"])
	})

	t.Run("ReusesPrefixedCode", func(t *testing.T) {
		store := newMemStore()
		existing, err := Generate()
		require.NoError(t, err)
		store.codes["a@b.com"] = existing

		res, err := Resolve(store, "a@b.com", false)
		require.NoError(t, err)
		require.True(t, res.Reuse)
		require.Equal(t, existing, res.Code)
		require.Zero(t, store.saves)
	})

	t.Run("ReplacesLegacyCode", func(t *testing.T) {
		store := newMemStore()
		store.codes["a@b.com"] = "ABCDEF12"

		res, err := Resolve(store, "a@b.com", false)
		require.NoError(t, err)
		require.False(t, res.Reuse)
		require.NotEqual(t, "ABCDEF12", store.codes["a@b.com"])
	})

	t.Run("ForceNewOverwrites", func(t *testing.T) {
		store := newMemStore()
		existing, err := Generate()
		require.NoError(t, err)
		store.codes["a@b.com"] = existing

		res, err := Resolve(store, "a@b.com", true)
		require.NoError(t, err)
		require.NotEqual(t, existing, res.Code)
		require.Equal(t, res.Code, store.codes["a@b.com"])
	})

	t.Run("SaveFailure", func(t *testing.T) {
		store := newMemStore()
		store.saveErr = errors.New("disk full")
		_, err := Resolve(store, "a@b.com", false)
		require.ErrorIs(t, err, store.saveErr)
	})

	t.Run("EmailRequired", func(t *testing.T) {
		_, err := Resolve(newMemStore(), "", false)
		require.Error(t, err)
	})
}
