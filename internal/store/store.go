// Package store persists the care-billing records in SQLite (through gorm)
// and keeps short-lived keys and queues in BadgerDB.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vitanips/vitanips-core/internal/config"
	apperrors "github.com/vitanips/vitanips-core/internal/errors"
)

// ErrQueueEmpty is returned by Dequeue when nothing is waiting
var ErrQueueEmpty = errors.New("queue empty")

// Store provides unified access to SQLite and BadgerDB
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	badger *badger.DB
	seq    *badger.Sequence
}

// New opens both databases and migrates the schema
func New(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "vitanips.db")
	}

	var (
		sqliteDB *sql.DB
		err      error
	)
	if cfg.Storage.InMemory {
		// every connection to :memory: is a separate database
		sqliteDB, err = sql.Open("sqlite", ":memory:")
		if err == nil {
			sqliteDB.SetMaxOpenConns(1)
		}
	} else {
		sqliteDB, err = sql.Open("sqlite", sqlitePath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
		if err == nil {
			sqliteDB.SetMaxOpenConns(10)
			sqliteDB.SetMaxIdleConns(5)
			sqliteDB.SetConnMaxLifetime(time.Hour)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(
		&Doctor{},
		&Appointment{},
		&Prescription{},
		&PrescriptionItem{},
		&Pharmacy{},
		&InventoryItem{},
		&MedicationOrder{},
		&OrderItem{},
		&InsurancePolicy{},
		&InsuranceClaim{},
		&Payment{},
		&CommissionRecord{},
		&Subscription{},
		&VitalReading{},
	); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	var badgerOpts badger.Options
	if cfg.Storage.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerPath := cfg.Storage.BadgerPath
		if badgerPath == "" {
			badgerPath = filepath.Join(cfg.Storage.DataDir, "badger")
		}
		badgerOpts = badger.DefaultOptions(badgerPath).
			WithNumVersionsToKeep(1).
			WithCompactL0OnClose(true).
			WithValueLogFileSize(16 << 20). // 16MB value log files
			WithMemTableSize(16 << 20)      // 16MB memtable
	}

	badgerDB, err := badger.Open(badgerOpts.WithLogger(nil))
	if err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := badgerDB.GetSequence([]byte("seq:queue"), 1000)
	if err != nil {
		badgerDB.Close()
		sqliteDB.Close()
		return nil, fmt.Errorf("failed to lease queue sequence: %w", err)
	}

	return &Store{db: db, sqlDB: sqliteDB, badger: badgerDB, seq: seq}, nil
}

// Close closes all database connections
func (s *Store) Close() error {
	s.seq.Release()
	berr := s.badger.Close()
	if err := s.sqlDB.Close(); err != nil {
		return err
	}
	return berr
}

// Transaction runs fn against a Store bound to one SQL transaction. The
// transaction commits when fn returns nil. Badger calls made through the
// bound store are not part of the transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&Store{db: gtx, sqlDB: s.sqlDB, badger: s.badger, seq: s.seq})
	})
}

// notFound maps gorm's not-found error onto a coded one
func notFound(err error, sentinel *apperrors.AppError, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.With(sentinel, "%s", id)
	}
	return err
}

// ==================== Idempotency Keys (BadgerDB) ====================

// AcquireKey sets key if it is absent and reports whether this caller set it.
// The key disappears after ttl.
func (s *Store) AcquireKey(key string, ttl time.Duration) (bool, error) {
	k := []byte("idem:" + key)
	err := s.badger.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == nil {
			return badger.ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(k, []byte(time.Now().UTC().Format(time.RFC3339))).WithTTL(ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

// ReleaseKey removes a key set by AcquireKey
func (s *Store) ReleaseKey(key string) error {
	return s.badger.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte("idem:" + key))
	})
}

// ==================== Queue Methods (BadgerDB) ====================

// Enqueue adds a job to the queue
func (s *Store) Enqueue(queue string, job []byte) error {
	n, err := s.seq.Next()
	if err != nil {
		return err
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		// zero-padded sequence keys iterate in FIFO order
		key := fmt.Sprintf("queue:%s:%020d", queue, n)
		return txn.Set([]byte(key), job)
	})
}

// Dequeue retrieves and removes the oldest job, or returns ErrQueueEmpty
func (s *Store) Dequeue(queue string) ([]byte, error) {
	var job []byte
	prefix := []byte("queue:" + queue + ":")

	err := s.badger.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return ErrQueueEmpty
		}

		item := it.Item()
		key := item.KeyCopy(nil)

		if err := item.Value(func(v []byte) error {
			job = append([]byte{}, v...)
			return nil
		}); err != nil {
			return err
		}

		return txn.Delete(key)
	})

	return job, err
}

// QueueLen counts the jobs waiting in a queue
func (s *Store) QueueLen(queue string) (int, error) {
	n := 0
	prefix := []byte("queue:" + queue + ":")
	err := s.badger.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
