// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package walletstore persists wallet change sets as an append-only log in a
// walletdb database.
package walletstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"

	// The bdb driver backs every store.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

const (
	// DBName is the file name of the store inside the data directory.
	DBName = "wallet.db"

	// DefaultDBTimeout is how long opening the database waits for the
	// file lock.
	DefaultDBTimeout = 60 * time.Second

	dbDriver = "bdb"
)

var (
	// changeSetBucket holds the encoded change sets keyed by their
	// big-endian sequence number.
	changeSetBucket = []byte("changesets")

	// ErrStoreExists is returned by Create when the database file already
	// exists.
	ErrStoreExists = errors.New("wallet store already exists")

	// ErrStoreNotFound is returned by Open when there is no database
	// file.
	ErrStoreNotFound = errors.New("wallet store not found")
)

// Store is an append-only log of change sets.
type Store struct {
	db walletdb.DB
}

// Create creates a new store at the given path.
func Create(path string, timeout time.Duration) (*Store, error) {
	exists, err := fileExists(path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrStoreExists
	}

	db, err := walletdb.Create(dbDriver, path, true, timeout, false)
	if err != nil {
		return nil, err
	}

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(changeSetBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to create changeset bucket: %w",
			err)
	}

	log.Infof("Created wallet store at %v", path)

	return &Store{db: db}, nil
}

// Open opens an existing store.
func Open(path string, timeout time.Duration) (*Store, error) {
	exists, err := fileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrStoreNotFound
	}

	db, err := walletdb.Open(dbDriver, path, true, timeout, false)
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Append adds a change set to the end of the log. Empty change sets are
// skipped.
func (s *Store) Append(cs ChangeSet) error {
	if cs.IsEmpty() {
		return nil
	}

	blob, err := Encode(cs)
	if err != nil {
		return err
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(changeSetBucket)
		if bucket == nil {
			return walletdb.ErrBucketNotFound
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		log.Debugf("Appending change set %d (%d bytes)", seq,
			len(blob))

		return bucket.Put(seqKey(seq), blob)
	})
}

// Aggregate merges every change set in the log into one.
func (s *Store) Aggregate() (ChangeSet, error) {
	agg := NewChangeSet()
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(changeSetBucket)
		if bucket == nil {
			return walletdb.ErrBucketNotFound
		}

		return bucket.ForEach(func(k, v []byte) error {
			cs, err := Decode(v)
			if err != nil {
				return fmt.Errorf("change set %d: %w",
					binary.BigEndian.Uint64(k), err)
			}
			agg = agg.Merge(cs)

			return nil
		})
	})
	if err != nil {
		return ChangeSet{}, err
	}

	return agg, nil
}

// Compact replaces the log with its aggregate.
func (s *Store) Compact() error {
	agg, err := s.Aggregate()
	if err != nil {
		return err
	}

	var blob []byte
	if !agg.IsEmpty() {
		blob, err = Encode(agg)
		if err != nil {
			return err
		}
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		err := tx.DeleteTopLevelBucket(changeSetBucket)
		if err != nil {
			return err
		}

		bucket, err := tx.CreateTopLevelBucket(changeSetBucket)
		if err != nil {
			return err
		}
		if blob == nil {
			return nil
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		return bucket.Put(seqKey(seq), blob)
	})
}

// Len returns the number of change sets in the log.
func (s *Store) Len() (int, error) {
	var n int
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(changeSetBucket)
		if bucket == nil {
			return walletdb.ErrBucketNotFound
		}

		return bucket.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})

	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}
