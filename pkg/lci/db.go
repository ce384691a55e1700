// Package lci provides the Life Cycle Inventory database facade.
//
// A Database wraps a storage engine and exposes the operations the
// composition pipeline needs: activity resolution by name fragment or key,
// technosphere traversal, JSON import and CSV export. The handle is an
// explicit injected dependency - there is no ambient project state - so
// tests run against in-memory fixture databases.
//
// Example Usage:
//
//	db, err := lci.Open("./data", "cutoff36")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	laptop, err := db.ActivityByName("computer production, laptop")
//	if err != nil {
//		log.Fatal(err)
//	}
//	inputs, _ := db.Technosphere(laptop.Key)
//	fmt.Printf("%s consumes %d technosphere inputs\n", laptop.Name, len(inputs))
package lci

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cml-lca/promc/pkg/storage"
)

// Common errors
var (
	ErrNoMatch  = errors.New("no activity name matches fragment")
	ErrClosed   = errors.New("database closed")
	ErrBadInput = errors.New("invalid import data")
)

// Database is a handle to one LCI database (one ecoinvent system model,
// or a hand-built toy model).
//
// Thread Safety:
//
//	Safe for concurrent reads; the filter pass and the solve pipeline are
//	sequential by design, so writes are never concurrent with solves.
type Database struct {
	name   string
	engine storage.Engine
	closed bool
}

// Open opens (or creates) a persistent database named name under dataDir.
// Data lives in dataDir/name.
func Open(dataDir, name string) (*Database, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty database name", ErrBadInput)
	}
	engine, err := storage.NewBadgerEngine(filepath.Join(dataDir, name))
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", name, err)
	}
	return &Database{name: name, engine: engine}, nil
}

// OpenMemory creates an in-memory database, used by tests and toy models.
func OpenMemory(name string) *Database {
	return &Database{name: name, engine: storage.NewMemoryEngine()}
}

// NewWithEngine wraps an existing storage engine. The caller keeps
// ownership of the engine lifecycle when using this constructor directly.
func NewWithEngine(name string, engine storage.Engine) *Database {
	return &Database{name: name, engine: engine}
}

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// Engine exposes the underlying storage engine for the filter and solver
// packages.
func (db *Database) Engine() storage.Engine { return db.engine }

// Close releases the underlying storage. Idempotent.
func (db *Database) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	return db.engine.Close()
}

// ActivityByKey resolves an activity by its (database, code) key.
func (db *Database) ActivityByKey(key storage.ActivityKey) (*storage.Activity, error) {
	act, err := db.engine.GetActivity(key)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", key, err)
	}
	return act, nil
}

// ActivityByName resolves a human-readable name fragment to a unique
// activity by substring match over all activity names.
//
// When multiple candidates match, the one with the shortest name wins:
// fewer characters implies a more specific base match, so
// "computer production, laptop" is preferred over
// "computer production, laptop, with a battery pack". Equal lengths are
// broken lexicographically so resolution is deterministic.
//
// Returns ErrNoMatch when no activity name contains the fragment.
func (db *Database) ActivityByName(fragment string) (*storage.Activity, error) {
	acts, err := db.engine.AllActivities()
	if err != nil {
		return nil, err
	}

	var candidates []*storage.Activity
	for _, act := range acts {
		if strings.Contains(act.Name, fragment) {
			candidates = append(candidates, act)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %q in %q", ErrNoMatch, fragment, db.name)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].Name) != len(candidates[j].Name) {
			return len(candidates[i].Name) < len(candidates[j].Name)
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0], nil
}

// Technosphere returns the technosphere inputs consumed by the given
// activity (every exchange flowing into it).
func (db *Database) Technosphere(consumer storage.ActivityKey) ([]*storage.Exchange, error) {
	return db.engine.ConsumedBy(consumer)
}

// Activities returns all activities sorted by key.
func (db *Database) Activities() ([]*storage.Activity, error) {
	return db.engine.AllActivities()
}

// Exchanges returns all exchanges sorted by ID.
func (db *Database) Exchanges() ([]*storage.Exchange, error) {
	return db.engine.AllExchanges()
}

// Stats returns activity and exchange counts.
func (db *Database) Stats() (activities, exchanges int64, err error) {
	activities, err = db.engine.ActivityCount()
	if err != nil {
		return 0, 0, err
	}
	exchanges, err = db.engine.ExchangeCount()
	if err != nil {
		return 0, 0, err
	}
	return activities, exchanges, nil
}
