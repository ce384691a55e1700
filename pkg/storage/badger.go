// BadgerEngine provides persistent disk-based storage using BadgerDB.
// It implements the Engine interface with transactional per-record writes.

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixActivity      = byte(0x01) // activity:key -> Activity
	prefixExchange      = byte(0x02) // exchange:id -> Exchange
	prefixConsumerIndex = byte(0x03) // consumer:outputKey:exchangeID -> []byte{}
	prefixSupplierIndex = byte(0x04) // supplier:inputKey:exchangeID -> []byte{}
)

// BadgerEngine provides persistent LCI storage using BadgerDB.
//
// Features:
//   - Transactions for all operations
//   - Persistent storage to disk: incorporation flags written by a filter
//     pass survive restarts, so the slow pass over a full ecoinvent
//     release only runs once
//   - Secondary indexes for consumer/supplier traversal
//   - Thread-safe concurrent access
//
// Key Structure:
//   - Activities:     0x01 + key            -> JSON(Activity)
//   - Exchanges:      0x02 + id             -> JSON(Exchange)
//   - Consumer Index: 0x03 + outKey + 0x00 + id -> empty
//   - Supplier Index: 0x04 + inKey + 0x00 + id  -> empty
//
// Durability note: a bulk flag update (filter pass) is written exchange by
// exchange with no enclosing transaction. A crash mid-pass leaves some
// exchanges flagged and others not; rerunning the pass is the recovery
// path (the filter is idempotent).
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex // Protects closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is silenced.
	Logger badger.Logger
}

// NewBadgerEngine creates a persistent storage engine with default
// settings.
//
// Parameters:
//   - dataDir: directory path for data files, created if missing
//
// Returns:
//   - *BadgerEngine on success
//   - error if the database cannot be opened (permissions, disk space)
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/cutoff36")
//	if err != nil {
//		return fmt.Errorf("opening database: %w", err)
//	}
//	defer engine.Close()
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom
// configuration.
//
// Example - in-memory database for tests:
//
//	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
//		InMemory: true,
//	})
//	defer engine.Close()
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	// Memory-constrained defaults; a full LCI release is a few hundred MB
	// of records, so the stock 64MB memtables are oversized.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerEngine{db: db}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the engine is closed. Useful for
// tests that need persistent-storage semantics without disk I/O.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

// activityKey creates a storage key for an activity.
func activityKey(key ActivityKey) []byte {
	s := key.String()
	out := make([]byte, 0, 1+len(s))
	out = append(out, prefixActivity)
	out = append(out, s...)
	return out
}

// exchangeKey creates a storage key for an exchange.
func exchangeKey(id ExchangeID) []byte {
	out := make([]byte, 0, 1+len(id))
	out = append(out, prefixExchange)
	out = append(out, id...)
	return out
}

// adjacencyIndexKey creates a key in the consumer or supplier index.
// Format: prefix + activityKey + 0x00 + exchangeID
func adjacencyIndexKey(prefix byte, act ActivityKey, id ExchangeID) []byte {
	s := act.String()
	out := make([]byte, 0, 1+len(s)+1+len(id))
	out = append(out, prefix)
	out = append(out, s...)
	out = append(out, 0x00)
	out = append(out, id...)
	return out
}

// adjacencyIndexPrefix returns the scan prefix for one activity's index
// entries.
func adjacencyIndexPrefix(prefix byte, act ActivityKey) []byte {
	s := act.String()
	out := make([]byte, 0, 1+len(s)+1)
	out = append(out, prefix)
	out = append(out, s...)
	out = append(out, 0x00)
	return out
}

// extractExchangeID extracts the exchange ID from an adjacency index key.
// The activity key part never contains 0x00, so the first separator wins.
func extractExchangeID(key []byte) ExchangeID {
	for i := 1; i < len(key); i++ {
		if key[i] == 0x00 {
			return ExchangeID(key[i+1:])
		}
	}
	return ""
}

// ============================================================================
// Activity Operations
// ============================================================================

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// CreateActivity creates a new activity in persistent storage.
func (b *BadgerEngine) CreateActivity(act *Activity) error {
	if act == nil {
		return ErrInvalidData
	}
	if act.Key.IsZero() {
		return ErrInvalidKey
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := activityKey(act.Key)
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := encodeActivity(act)
		if err != nil {
			return fmt.Errorf("failed to encode activity: %w", err)
		}
		return txn.Set(key, data)
	})
}

// GetActivity retrieves an activity by key.
func (b *BadgerEngine) GetActivity(key ActivityKey) (*Activity, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var act *Activity
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(activityKey(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			act, decodeErr = decodeActivity(val)
			return decodeErr
		})
	})
	return act, err
}

// UpdateActivity updates an existing activity.
func (b *BadgerEngine) UpdateActivity(act *Activity) error {
	if act == nil {
		return ErrInvalidData
	}
	if act.Key.IsZero() {
		return ErrInvalidKey
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := activityKey(act.Key)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		data, err := encodeActivity(act)
		if err != nil {
			return fmt.Errorf("failed to encode activity: %w", err)
		}
		return txn.Set(key, data)
	})
}

// DeleteActivity removes an activity and all exchanges touching it.
func (b *BadgerEngine) DeleteActivity(key ActivityKey) error {
	if key.IsZero() {
		return ErrInvalidKey
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		akey := activityKey(key)
		if _, err := txn.Get(akey); err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		// Delete exchanges where this activity is the consumer, then the
		// supplier.
		for _, prefix := range [][]byte{
			adjacencyIndexPrefix(prefixConsumerIndex, key),
			adjacencyIndexPrefix(prefixSupplierIndex, key),
		} {
			if err := b.deleteExchangesWithPrefix(txn, prefix); err != nil {
				return err
			}
		}
		return txn.Delete(akey)
	})
}

// deleteExchangesWithPrefix deletes all exchanges referenced by an
// adjacency index prefix (helper for DeleteActivity).
func (b *BadgerEngine) deleteExchangesWithPrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var ids []ExchangeID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, extractExchangeID(it.Item().KeyCopy(nil)))
	}
	it.Close()

	for _, id := range ids {
		if err := b.deleteExchangeInTxn(txn, id); err != nil && err != ErrNotFound {
			return err
		}
	}
	return nil
}

// ============================================================================
// Exchange Operations
// ============================================================================

// CreateExchange creates a new exchange. Both endpoints must exist.
func (b *BadgerEngine) CreateExchange(exc *Exchange) error {
	if exc == nil {
		return ErrInvalidData
	}
	if exc.ID == "" {
		return ErrInvalidKey
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := exchangeKey(exc.ID)
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		// Validate endpoints.
		if _, err := txn.Get(activityKey(exc.Input)); err == badger.ErrKeyNotFound {
			return ErrInvalidExchange
		} else if err != nil {
			return err
		}
		if _, err := txn.Get(activityKey(exc.Output)); err == badger.ErrKeyNotFound {
			return ErrInvalidExchange
		} else if err != nil {
			return err
		}

		data, err := encodeExchange(exc)
		if err != nil {
			return fmt.Errorf("failed to encode exchange: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}

		if err := txn.Set(adjacencyIndexKey(prefixConsumerIndex, exc.Output, exc.ID), []byte{}); err != nil {
			return err
		}
		return txn.Set(adjacencyIndexKey(prefixSupplierIndex, exc.Input, exc.ID), []byte{})
	})
}

// GetExchange retrieves an exchange by ID.
func (b *BadgerEngine) GetExchange(id ExchangeID) (*Exchange, error) {
	if id == "" {
		return nil, ErrInvalidKey
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var exc *Exchange
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(exchangeKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			exc, decodeErr = decodeExchange(val)
			return decodeErr
		})
	})
	return exc, err
}

// UpdateExchange updates an existing exchange, maintaining the adjacency
// indexes if endpoints changed.
func (b *BadgerEngine) UpdateExchange(exc *Exchange) error {
	if exc == nil {
		return ErrInvalidData
	}
	if exc.ID == "" {
		return ErrInvalidKey
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := exchangeKey(exc.ID)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var existing *Exchange
		if err := item.Value(func(val []byte) error {
			var decodeErr error
			existing, decodeErr = decodeExchange(val)
			return decodeErr
		}); err != nil {
			return err
		}

		if existing.Input != exc.Input || existing.Output != exc.Output {
			if err := txn.Delete(adjacencyIndexKey(prefixConsumerIndex, existing.Output, exc.ID)); err != nil {
				return err
			}
			if err := txn.Delete(adjacencyIndexKey(prefixSupplierIndex, existing.Input, exc.ID)); err != nil {
				return err
			}
			if err := txn.Set(adjacencyIndexKey(prefixConsumerIndex, exc.Output, exc.ID), []byte{}); err != nil {
				return err
			}
			if err := txn.Set(adjacencyIndexKey(prefixSupplierIndex, exc.Input, exc.ID), []byte{}); err != nil {
				return err
			}
		}

		data, err := encodeExchange(exc)
		if err != nil {
			return fmt.Errorf("failed to encode exchange: %w", err)
		}
		return txn.Set(key, data)
	})
}

// DeleteExchange removes an exchange and its index entries.
func (b *BadgerEngine) DeleteExchange(id ExchangeID) error {
	if id == "" {
		return ErrInvalidKey
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return b.deleteExchangeInTxn(txn, id)
	})
}

func (b *BadgerEngine) deleteExchangeInTxn(txn *badger.Txn, id ExchangeID) error {
	key := exchangeKey(id)
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var exc *Exchange
	if err := item.Value(func(val []byte) error {
		var decodeErr error
		exc, decodeErr = decodeExchange(val)
		return decodeErr
	}); err != nil {
		return err
	}

	if err := txn.Delete(adjacencyIndexKey(prefixConsumerIndex, exc.Output, id)); err != nil {
		return err
	}
	if err := txn.Delete(adjacencyIndexKey(prefixSupplierIndex, exc.Input, id)); err != nil {
		return err
	}
	return txn.Delete(key)
}

// ============================================================================
// Traversal
// ============================================================================

// ConsumedBy returns the technosphere inputs of the consuming activity.
func (b *BadgerEngine) ConsumedBy(consumer ActivityKey) ([]*Exchange, error) {
	return b.adjacent(prefixConsumerIndex, consumer)
}

// SuppliedBy returns the deliveries of the supplying activity.
func (b *BadgerEngine) SuppliedBy(supplier ActivityKey) ([]*Exchange, error) {
	return b.adjacent(prefixSupplierIndex, supplier)
}

func (b *BadgerEngine) adjacent(prefix byte, key ActivityKey) ([]*Exchange, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []*Exchange
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		scanPrefix := adjacencyIndexPrefix(prefix, key)
		for it.Seek(scanPrefix); it.ValidForPrefix(scanPrefix); it.Next() {
			id := extractExchangeID(it.Item().KeyCopy(nil))
			item, err := txn.Get(exchangeKey(id))
			if err != nil {
				return fmt.Errorf("dangling index entry for exchange %s: %w", id, err)
			}
			if err := item.Value(func(val []byte) error {
				exc, decodeErr := decodeExchange(val)
				if decodeErr != nil {
					return decodeErr
				}
				out = append(out, exc)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// ============================================================================
// Bulk listing
// ============================================================================

// AllActivities returns every activity sorted by key (badger iterates keys
// in byte order, which matches the key encoding).
func (b *BadgerEngine) AllActivities() ([]*Activity, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []*Activity
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{prefixActivity}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				act, decodeErr := decodeActivity(val)
				if decodeErr != nil {
					return decodeErr
				}
				out = append(out, act)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// AllExchanges returns every exchange sorted by ID.
func (b *BadgerEngine) AllExchanges() ([]*Exchange, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var out []*Exchange
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{prefixExchange}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				exc, decodeErr := decodeExchange(val)
				if decodeErr != nil {
					return decodeErr
				}
				out = append(out, exc)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// BulkCreateActivities creates activities in batched transactions.
func (b *BadgerEngine) BulkCreateActivities(acts []*Activity) error {
	for _, act := range acts {
		if err := b.CreateActivity(act); err != nil {
			return fmt.Errorf("activity %s: %w", act.Key, err)
		}
	}
	return nil
}

// BulkCreateExchanges creates exchanges one record per transaction.
func (b *BadgerEngine) BulkCreateExchanges(excs []*Exchange) error {
	for _, exc := range excs {
		if err := b.CreateExchange(exc); err != nil {
			return fmt.Errorf("exchange %s: %w", exc.ID, err)
		}
	}
	return nil
}

// ============================================================================
// Stats and lifecycle
// ============================================================================

// ActivityCount returns the number of stored activities.
func (b *BadgerEngine) ActivityCount() (int64, error) {
	return b.countPrefix(prefixActivity)
}

// ExchangeCount returns the number of stored exchanges.
func (b *BadgerEngine) ExchangeCount() (int64, error) {
	return b.countPrefix(prefixExchange)
}

func (b *BadgerEngine) countPrefix(prefix byte) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte{prefix}
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close closes the underlying BadgerDB. Idempotent.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// ============================================================================
// Streaming
// ============================================================================

// StreamActivities iterates over all activities in key order without
// loading all into memory.
func (b *BadgerEngine) StreamActivities(ctx context.Context, fn func(act *Activity) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{prefixActivity}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := it.Item().Value(func(val []byte) error {
				act, decodeErr := decodeActivity(val)
				if decodeErr != nil {
					return decodeErr
				}
				return fn(act)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// StreamExchanges iterates over all exchanges in ID order.
func (b *BadgerEngine) StreamExchanges(ctx context.Context, fn func(exc *Exchange) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{prefixExchange}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := it.Item().Value(func(val []byte) error {
				exc, decodeErr := decodeExchange(val)
				if decodeErr != nil {
					return decodeErr
				}
				return fn(exc)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
