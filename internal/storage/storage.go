package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
)

// Key prefixes. Probe entries are keyed by position hash, asset entries by
// file path.
const (
	prefixProbe = "tb/"
	prefixAsset = "asset/"
)

// probeTTL bounds how long a cached tablebase probe is trusted. The tables
// never change, but a bounded lifetime keeps the database from growing
// without end.
const probeTTL = 30 * 24 * time.Hour

// Store wraps BadgerDB for the engine's persistent caches.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store in the default database directory.
func Open() (*Store, error) {
	dir, err := DatabaseDir()
	if err != nil {
		return nil, err
	}
	return OpenAt(dir)
}

// OpenAt opens a store at the given directory. Used by tests.
func OpenAt(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func probeKey(positionKey uint64) []byte {
	key := make([]byte, len(prefixProbe)+8)
	copy(key, prefixProbe)
	binary.BigEndian.PutUint64(key[len(prefixProbe):], positionKey)
	return key
}

// PutProbe records a tablebase WDL result for a position key.
func (s *Store) PutProbe(positionKey uint64, wdl int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(probeKey(positionKey), []byte{byte(wdl + 2)}).
			WithTTL(probeTTL)
		return txn.SetEntry(e)
	})
}

// GetProbe looks up a cached WDL result.
func (s *Store) GetProbe(positionKey uint64) (wdl int, ok bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(probeKey(positionKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 1 {
				return nil
			}
			wdl = int(val[0]) - 2
			ok = true
			return nil
		})
	})
	return wdl, ok, err
}

// FileFingerprint hashes a file's contents with xxhash, used to verify
// downloaded assets against their recorded fingerprints.
func FileFingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// PutAsset records an asset file's fingerprint.
func (s *Store) PutAsset(path string, fingerprint uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], fingerprint)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixAsset+path), buf[:])
	})
}

// VerifyAsset reports whether the file at path still matches its recorded
// fingerprint. Unknown assets verify as false without error.
func (s *Store) VerifyAsset(path string) (bool, error) {
	var recorded uint64
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixAsset + path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				recorded = binary.BigEndian.Uint64(val)
				found = true
			}
			return nil
		})
	})
	if err != nil || !found {
		return false, err
	}

	actual, err := FileFingerprint(path)
	if err != nil {
		return false, err
	}
	return actual == recorded, nil
}
