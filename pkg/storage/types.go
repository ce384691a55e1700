// Package storage provides the storage engine interface and implementations
// for promc LCI databases.
//
// The storage layer models a Life Cycle Inventory database as a directed
// graph: activities (production processes) are nodes, technosphere
// exchanges (intermediate flows between processes) are edges. Each exchange
// carries an optional persisted incorporation fraction that the filter pass
// writes and the matrix editor reads.
//
// Design Principles:
//   - Typed schema for exchange attributes (no ad hoc key/value bags)
//   - Testability through dependency injection
//   - Thread-safe implementations
//   - Deterministic iteration for reproducible reports
//
// Example Usage:
//
//	// Create storage engine
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	// Create activities
//	laptop := &storage.Activity{
//		Key:     storage.ActivityKey{Database: "db", Code: "laptop"},
//		Name:    "computer production, laptop",
//		Product: "laptop",
//		Unit:    "unit",
//	}
//	engine.CreateActivity(laptop)
//
//	// Create a technosphere exchange (copper consumed by laptop production)
//	exc := &storage.Exchange{
//		ID:     storage.ExchangeID("exc-1"),
//		Input:  storage.ActivityKey{Database: "db", Code: "copper"},
//		Output: laptop.Key,
//		Amount: 0.25,
//	}
//	engine.CreateExchange(exc)
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidData      = errors.New("invalid data")
	ErrInvalidExchange  = errors.New("invalid exchange: input or output activity not found")
	ErrStorageClosed    = errors.New("storage closed")
	ErrIterationStopped = errors.New("iteration stopped") // Sentinel to stop streaming early
)

// ActivityKey uniquely identifies an activity as (database name, code).
//
// LCI databases address datasets by a pair of database name and an opaque
// code (ecoinvent uses hex UUIDs). Using a struct instead of a bare string
// keeps the two parts separate and makes cross-database material
// dictionaries explicit about which release they target.
//
// Example:
//
//	key := storage.ActivityKey{Database: "cutoff36", Code: "b4f2456cf9cbe7dfeb67c91780bd3e38"}
//	act, err := engine.GetActivity(key)
type ActivityKey struct {
	Database string `json:"database"`
	Code     string `json:"code"`
}

// String renders the key as "database:code".
func (k ActivityKey) String() string {
	return k.Database + ":" + k.Code
}

// IsZero reports whether the key is empty.
func (k ActivityKey) IsZero() bool {
	return k.Database == "" && k.Code == ""
}

// ParseActivityKey parses a "database:code" string into an ActivityKey.
//
// The code part may itself contain colons; only the first separator is
// significant.
func ParseActivityKey(s string) (ActivityKey, error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return ActivityKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return ActivityKey{Database: s[:i], Code: s[i+1:]}, nil
}

// ExchangeID is a strongly-typed unique identifier for technosphere
// exchanges.
//
// Using a custom type provides:
//   - Type safety (an ExchangeID cannot be confused with an activity code)
//   - Clear API semantics
type ExchangeID string

// ElementaryFlow is a biosphere (environmental) flow of an activity:
// a resource extracted from or an emission released to the environment
// per unit of the activity's reference product.
//
// Elementary flows feed the biosphere matrix B; the inventory vector
// g = B·s sums them over the whole supply chain.
type ElementaryFlow struct {
	Flow   string  `json:"flow"`   // flow name, e.g. "non-renewable resources, copper"
	Amount float64 `json:"amount"` // per unit of reference product
}

// Activity represents a production process (unit process) in the
// technosphere graph.
//
// Fields:
//   - Key: unique (database, code) identifier
//   - Name: activity name, e.g. "computer production, laptop"
//   - Product: reference product name, e.g. "laptop". The incorporation
//     filter matches avoid keywords against this field, not against Name.
//   - Unit: unit of the reference product ("kilogram", "unit", ...)
//   - Location: geography code ("GLO", "RER", ...)
//   - ReferenceAmount: produced amount per solve column; normalized to 1
//     unit of reference product. Zero is treated as 1 when assembling the
//     technology matrix.
//   - Flows: elementary (biosphere) flows per unit of output
//
// Example:
//
//	act := &storage.Activity{
//		Key:      storage.ActivityKey{Database: "db", Code: "cu-ext"},
//		Name:     "copper extraction",
//		Product:  "copper",
//		Unit:     "kilogram",
//		Location: "GLO",
//		Flows: []storage.ElementaryFlow{
//			{Flow: "non-renewable resources, copper", Amount: 1.05},
//		},
//	}
//
// Thread Safety:
//
//	Activity structs are NOT thread-safe. The storage engine handles
//	concurrency.
type Activity struct {
	Key             ActivityKey      `json:"key"`
	Name            string           `json:"name"`
	Product         string           `json:"product"`
	Unit            string           `json:"unit,omitempty"`
	Location        string           `json:"location,omitempty"`
	ReferenceAmount float64          `json:"referenceAmount,omitempty"`
	Flows           []ElementaryFlow `json:"flows,omitempty"`
}

// Exchange represents a directed technosphere exchange: the Input
// activity's reference product consumed by the Output activity.
//
// Core fields:
//   - ID: unique identifier
//   - Input: supplying activity (where the flow comes from)
//   - Output: consuming activity (where the flow goes)
//   - Amount: flow quantity per unit of the Output activity's reference
//     product. Negative amounts represent avoided products / by-product
//     credits.
//
// Persisted filter attributes (the defined schema replacing the original
// ad hoc per-exchange attribute bag):
//   - Incorporated: fraction in [0,1] of this flow that physically ends up
//     in the final product. nil means the filter pass never touched this
//     exchange; consumers MUST treat nil as fully incorporated (1.0) and
//     log a warning, since it indicates an incomplete filter pass.
//   - AmountSave: snapshot of the original Amount taken before any
//     amount-rewriting experiment; nil when no snapshot was taken.
//
// ELI12:
//
// Think of an Exchange like an arrow on a supply-chain map: "the copper
// mine sends 0.25 kg of copper to the laptop plant". The Incorporated
// sticker on the arrow answers one question: does that copper end up
// inside the laptop you buy (1.0), or is it burned, scrapped or used up
// along the way (0.0)? The sticker stays on the arrow between runs, which
// is why applying it to a full ecoinvent release only has to happen once.
//
// Thread Safety:
//
//	Exchange structs are NOT thread-safe. The storage engine handles
//	concurrency.
type Exchange struct {
	ID     ExchangeID  `json:"id"`
	Input  ActivityKey `json:"input"`
	Output ActivityKey `json:"output"`
	Amount float64     `json:"amount"`

	Incorporated *float64 `json:"incorporated,omitempty"`
	AmountSave   *float64 `json:"amountSave,omitempty"`
}

// Incorporation returns the incorporation fraction of the exchange and
// whether the flag was explicitly set. An unset flag reads as fully
// incorporated (1.0, false); callers decide whether that deserves a
// warning.
func (e *Exchange) Incorporation() (float64, bool) {
	if e.Incorporated == nil {
		return 1.0, false
	}
	return *e.Incorporated, true
}

// SetIncorporation sets the incorporation fraction. The fraction must be
// in [0,1].
func (e *Exchange) SetIncorporation(frac float64) error {
	if frac < 0 || frac > 1 {
		return fmt.Errorf("%w: incorporation %v outside [0,1]", ErrInvalidData, frac)
	}
	e.Incorporated = &frac
	return nil
}

// Engine defines the storage engine interface for LCI database operations.
//
// All Engine implementations MUST be:
//   - Thread-safe: safe for concurrent access from multiple goroutines
//   - Deterministic: AllActivities/AllExchanges return records sorted by
//     key so that reports diff cleanly between runs
//
// The interface provides:
//   - CRUD for activities and exchanges
//   - Graph traversal (ConsumedBy/SuppliedBy)
//   - Bulk operations for import
//   - Counts
//
// Implementations:
//   - MemoryEngine: in-memory storage for tests and toy models
//   - BadgerEngine: persistent disk storage for full ecoinvent releases
type Engine interface {
	// Activity operations
	CreateActivity(act *Activity) error
	GetActivity(key ActivityKey) (*Activity, error)
	UpdateActivity(act *Activity) error
	DeleteActivity(key ActivityKey) error

	// Exchange operations
	CreateExchange(exc *Exchange) error
	GetExchange(id ExchangeID) (*Exchange, error)
	UpdateExchange(exc *Exchange) error
	DeleteExchange(id ExchangeID) error

	// Traversal.
	// ConsumedBy returns the technosphere inputs of a consuming activity
	// (every exchange whose Output is the given key). This mirrors
	// iterating act.technosphere() in Brightway terms.
	ConsumedBy(consumer ActivityKey) ([]*Exchange, error)
	// SuppliedBy returns the deliveries of a supplying activity (every
	// exchange whose Input is the given key).
	SuppliedBy(supplier ActivityKey) ([]*Exchange, error)

	// Bulk listing (sorted by key)
	AllActivities() ([]*Activity, error)
	AllExchanges() ([]*Exchange, error)

	// Bulk operations (for import)
	BulkCreateActivities(acts []*Activity) error
	BulkCreateExchanges(excs []*Exchange) error

	// Stats
	ActivityCount() (int64, error)
	ExchangeCount() (int64, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// STREAMING INTERFACE
// =============================================================================

// StreamingEngine extends Engine with streaming iteration support.
// This is optional - engines that don't support streaming fall back to
// AllActivities/AllExchanges with chunked processing.
//
// The filter pass over a full ecoinvent release touches every exchange and
// runs for tens of minutes; streaming keeps memory flat and lets the
// context cancel a run that was started by mistake.
type StreamingEngine interface {
	Engine

	// StreamActivities iterates over all activities in key order without
	// loading all into memory. The callback is called for each activity.
	// Return an error to stop iteration.
	StreamActivities(ctx context.Context, fn func(act *Activity) error) error

	// StreamExchanges iterates over all exchanges in ID order.
	StreamExchanges(ctx context.Context, fn func(exc *Exchange) error) error
}

// ActivityVisitor is a function called for each activity during streaming.
type ActivityVisitor func(act *Activity) error

// ExchangeVisitor is a function called for each exchange during streaming.
type ExchangeVisitor func(exc *Exchange) error

// StreamActivitiesWithFallback provides streaming iteration with fallback.
// If the engine supports StreamingEngine, it uses that. Otherwise it loads
// all activities and visits them sequentially, honoring cancellation.
func StreamActivitiesWithFallback(ctx context.Context, engine Engine, fn ActivityVisitor) error {
	if streamer, ok := engine.(StreamingEngine); ok {
		return streamer.StreamActivities(ctx, fn)
	}

	acts, err := engine.AllActivities()
	if err != nil {
		return err
	}
	for i, act := range acts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(act); err != nil {
			return err
		}
		acts[i] = nil // allow GC of visited records
	}
	return nil
}

// StreamExchangesWithFallback provides streaming iteration with fallback.
func StreamExchangesWithFallback(ctx context.Context, engine Engine, fn ExchangeVisitor) error {
	if streamer, ok := engine.(StreamingEngine); ok {
		return streamer.StreamExchanges(ctx, fn)
	}

	excs, err := engine.AllExchanges()
	if err != nil {
		return err
	}
	for i, exc := range excs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(exc); err != nil {
			return err
		}
		excs[i] = nil
	}
	return nil
}
