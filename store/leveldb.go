package store

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/zap"

	"email-signer/shared"
)

const (
	minCache   = 16
	minHandles = 16
)

// Database is a leveldb-backed key-value store
type Database struct {
	db     *leveldb.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at file, recovering it once if the manifest is corrupted
func Open(file string, cache, handles int, logger *shared.Logger) (*Database, error) {
	if logger == nil {
		logger = shared.NopLogger()
	}
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	log := logger.With(zap.String("database", file))

	db, err := leveldb.OpenFile(file, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	var corrupted *lerrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		log.Warn("Recovering corrupted store", zap.Error(err))
		db, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", file, err)
	}
	log.Info("Opened store", zap.Int("cache_mb", cache), zap.Int("handles", handles))
	return &Database{db: db, logger: log}, nil
}

// OpenMemory opens a database that lives only in memory
func OpenMemory() (*Database, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Database{db: db, logger: zap.NewNop()}, nil
}

// Get returns the value for key, or ok=false when it is absent
func (d *Database) Get(key []byte) ([]byte, bool, error) {
	value, err := d.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stores value under key with a synced write
func (d *Database) Put(key, value []byte) error {
	return d.db.Put(key, value, &opt.WriteOptions{Sync: true})
}

// Close flushes and closes the database
func (d *Database) Close() error {
	return d.db.Close()
}
