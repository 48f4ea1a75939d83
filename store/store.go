// Package store persists the per-email account data: account codes, signer
// addresses, vault addresses and the last used email. Each mapping is kept as a
// single JSON object under a fixed key and rewritten whole on every save.
//
// Writers in different processes are not coordinated; the last write wins.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"email-signer/shared"
)

const (
	keyAccountCodes  = "accountCodes"
	keyEmailSigners  = "emailSigners"
	keySafeAddresses = "safeAddresses"
	keyEmailAddress  = "emailAddress"
)

// StoreError wraps a failed read or write of a mapping
type StoreError struct {
	*shared.FlowError
	Key string `json:"key"`
}

func newStoreError(key string, cause error) *StoreError {
	return &StoreError{
		FlowError: &shared.FlowError{
			Type:    shared.ErrorTypeStore,
			Message: fmt.Sprintf("store key %s unavailable", key),
			Cause:   cause,
		},
		Key: key,
	}
}

// Store is the namespaced email store
type Store struct {
	mu sync.Mutex
	db *Database
}

// New wraps an open database
func New(db *Database) *Store {
	return &Store{db: db}
}

// OpenStore opens the store at path
func OpenStore(path string, logger *shared.Logger) (*Store, error) {
	db, err := Open(path, 0, 0, logger)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// AccountCode returns the stored account code for email
func (s *Store) AccountCode(email string) (string, bool, error) {
	return s.lookup(keyAccountCodes, email)
}

// SaveAccountCode stores code for email, replacing any previous one
func (s *Store) SaveAccountCode(email, code string) error {
	return s.update(keyAccountCodes, email, code)
}

// SignerAddress returns the email signer address recorded for email
func (s *Store) SignerAddress(email string) (common.Address, bool, error) {
	return s.lookupAddress(keyEmailSigners, email)
}

// SaveSignerAddress records the email signer address for email
func (s *Store) SaveSignerAddress(email string, addr common.Address) error {
	return s.update(keyEmailSigners, email, addr.Hex())
}

// SafeAddress returns the vault for email. Entries keyed by email or by any key
// ending in "_<email>" match; an exact key wins.
func (s *Store) SafeAddress(email string) (common.Address, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapping, err := s.load(keySafeAddresses)
	if err != nil {
		return common.Address{}, false, err
	}
	if value, ok := mapping[email]; ok && common.IsHexAddress(value) {
		return common.HexToAddress(value), true, nil
	}
	suffix := "_" + email
	for key, value := range mapping {
		if strings.HasSuffix(key, suffix) && common.IsHexAddress(value) {
			return common.HexToAddress(value), true, nil
		}
	}
	return common.Address{}, false, nil
}

// SaveSafeAddress records the vault for email
func (s *Store) SaveSafeAddress(email string, addr common.Address) error {
	return s.update(keySafeAddresses, email, addr.Hex())
}

// EmailAddress returns the last email used
func (s *Store) EmailAddress() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok, err := s.db.Get([]byte(keyEmailAddress))
	if err != nil {
		return "", false, newStoreError(keyEmailAddress, err)
	}
	return string(value), ok, nil
}

// SaveEmailAddress records email as the last used address
func (s *Store) SaveEmailAddress(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Put([]byte(keyEmailAddress), []byte(email)); err != nil {
		return newStoreError(keyEmailAddress, err)
	}
	return nil
}

func (s *Store) lookup(key, email string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapping, err := s.load(key)
	if err != nil {
		return "", false, err
	}
	value, ok := mapping[email]
	return value, ok, nil
}

func (s *Store) lookupAddress(key, email string) (common.Address, bool, error) {
	value, ok, err := s.lookup(key, email)
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, false, nil
	}
	return common.HexToAddress(value), true, nil
}

func (s *Store) update(key, email, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapping, err := s.load(key)
	if err != nil {
		return err
	}
	mapping[email] = value

	blob, err := json.Marshal(mapping)
	if err != nil {
		return newStoreError(key, err)
	}
	if err := s.db.Put([]byte(key), blob); err != nil {
		return newStoreError(key, err)
	}
	return nil
}

// load reads a mapping; an unparsable blob is treated as empty
func (s *Store) load(key string) (map[string]string, error) {
	blob, ok, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, newStoreError(key, err)
	}
	mapping := make(map[string]string)
	if !ok || len(blob) == 0 {
		return mapping, nil
	}
	if err := json.Unmarshal(blob, &mapping); err != nil {
		return make(map[string]string), nil
	}
	return mapping, nil
}
