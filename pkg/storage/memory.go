package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryEngine provides thread-safe in-memory LCI storage.
//
// It keeps activities and exchanges in maps with secondary adjacency
// indexes for ConsumedBy/SuppliedBy traversal. Nothing is persisted;
// the engine is intended for unit tests and hand-built toy models
// (the simplified laptop supply chain used throughout the test suite).
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	engine.CreateActivity(&storage.Activity{
//		Key:     storage.ActivityKey{Database: "db", Code: "laptop"},
//		Name:    "computer production, laptop",
//		Product: "laptop",
//	})
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
type MemoryEngine struct {
	mu sync.RWMutex

	activities map[ActivityKey]*Activity
	exchanges  map[ExchangeID]*Exchange

	// Adjacency indexes: consumer key -> exchange IDs, supplier key -> exchange IDs.
	byOutput map[ActivityKey]map[ExchangeID]struct{}
	byInput  map[ActivityKey]map[ExchangeID]struct{}

	closed bool
}

// NewMemoryEngine creates an empty in-memory storage engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		activities: make(map[ActivityKey]*Activity),
		exchanges:  make(map[ExchangeID]*Exchange),
		byOutput:   make(map[ActivityKey]map[ExchangeID]struct{}),
		byInput:    make(map[ActivityKey]map[ExchangeID]struct{}),
	}
}

// copyActivity returns a defensive copy so callers cannot mutate stored
// state without going through UpdateActivity.
func copyActivity(act *Activity) *Activity {
	cp := *act
	if act.Flows != nil {
		cp.Flows = make([]ElementaryFlow, len(act.Flows))
		copy(cp.Flows, act.Flows)
	}
	return &cp
}

func copyExchange(exc *Exchange) *Exchange {
	cp := *exc
	if exc.Incorporated != nil {
		v := *exc.Incorporated
		cp.Incorporated = &v
	}
	if exc.AmountSave != nil {
		v := *exc.AmountSave
		cp.AmountSave = &v
	}
	return &cp
}

// ============================================================================
// Activity Operations
// ============================================================================

// CreateActivity stores a new activity. Fails with ErrAlreadyExists if the
// key is taken.
func (m *MemoryEngine) CreateActivity(act *Activity) error {
	if act == nil {
		return ErrInvalidData
	}
	if act.Key.IsZero() {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.activities[act.Key]; ok {
		return ErrAlreadyExists
	}
	m.activities[act.Key] = copyActivity(act)
	return nil
}

// GetActivity retrieves an activity by key.
func (m *MemoryEngine) GetActivity(key ActivityKey) (*Activity, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	act, ok := m.activities[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyActivity(act), nil
}

// UpdateActivity replaces an existing activity.
func (m *MemoryEngine) UpdateActivity(act *Activity) error {
	if act == nil {
		return ErrInvalidData
	}
	if act.Key.IsZero() {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.activities[act.Key]; !ok {
		return ErrNotFound
	}
	m.activities[act.Key] = copyActivity(act)
	return nil
}

// DeleteActivity removes an activity and all exchanges touching it.
func (m *MemoryEngine) DeleteActivity(key ActivityKey) error {
	if key.IsZero() {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.activities[key]; !ok {
		return ErrNotFound
	}
	delete(m.activities, key)

	for id := range m.byOutput[key] {
		m.removeExchangeLocked(id)
	}
	for id := range m.byInput[key] {
		m.removeExchangeLocked(id)
	}
	delete(m.byOutput, key)
	delete(m.byInput, key)
	return nil
}

// ============================================================================
// Exchange Operations
// ============================================================================

// CreateExchange stores a new exchange. Both endpoints must exist.
func (m *MemoryEngine) CreateExchange(exc *Exchange) error {
	if exc == nil {
		return ErrInvalidData
	}
	if exc.ID == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.exchanges[exc.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := m.activities[exc.Input]; !ok {
		return ErrInvalidExchange
	}
	if _, ok := m.activities[exc.Output]; !ok {
		return ErrInvalidExchange
	}

	m.exchanges[exc.ID] = copyExchange(exc)
	m.indexExchangeLocked(exc)
	return nil
}

func (m *MemoryEngine) indexExchangeLocked(exc *Exchange) {
	if m.byOutput[exc.Output] == nil {
		m.byOutput[exc.Output] = make(map[ExchangeID]struct{})
	}
	m.byOutput[exc.Output][exc.ID] = struct{}{}
	if m.byInput[exc.Input] == nil {
		m.byInput[exc.Input] = make(map[ExchangeID]struct{})
	}
	m.byInput[exc.Input][exc.ID] = struct{}{}
}

func (m *MemoryEngine) removeExchangeLocked(id ExchangeID) {
	exc, ok := m.exchanges[id]
	if !ok {
		return
	}
	delete(m.exchanges, id)
	if idx := m.byOutput[exc.Output]; idx != nil {
		delete(idx, id)
	}
	if idx := m.byInput[exc.Input]; idx != nil {
		delete(idx, id)
	}
}

// GetExchange retrieves an exchange by ID.
func (m *MemoryEngine) GetExchange(id ExchangeID) (*Exchange, error) {
	if id == "" {
		return nil, ErrInvalidKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	exc, ok := m.exchanges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyExchange(exc), nil
}

// UpdateExchange replaces an existing exchange. Endpoints may not change
// implicitly: the indexes are rebuilt from the new record.
func (m *MemoryEngine) UpdateExchange(exc *Exchange) error {
	if exc == nil {
		return ErrInvalidData
	}
	if exc.ID == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	old, ok := m.exchanges[exc.ID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m.activities[exc.Input]; !ok {
		return ErrInvalidExchange
	}
	if _, ok := m.activities[exc.Output]; !ok {
		return ErrInvalidExchange
	}

	// Re-index if endpoints moved.
	if old.Input != exc.Input || old.Output != exc.Output {
		m.removeExchangeLocked(exc.ID)
		m.exchanges[exc.ID] = copyExchange(exc)
		m.indexExchangeLocked(exc)
		return nil
	}
	m.exchanges[exc.ID] = copyExchange(exc)
	return nil
}

// DeleteExchange removes an exchange.
func (m *MemoryEngine) DeleteExchange(id ExchangeID) error {
	if id == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.exchanges[id]; !ok {
		return ErrNotFound
	}
	m.removeExchangeLocked(id)
	return nil
}

// ============================================================================
// Traversal
// ============================================================================

// ConsumedBy returns the technosphere inputs of the consuming activity,
// sorted by exchange ID.
func (m *MemoryEngine) ConsumedBy(consumer ActivityKey) ([]*Exchange, error) {
	return m.adjacent(consumer, true)
}

// SuppliedBy returns the deliveries of the supplying activity, sorted by
// exchange ID.
func (m *MemoryEngine) SuppliedBy(supplier ActivityKey) ([]*Exchange, error) {
	return m.adjacent(supplier, false)
}

func (m *MemoryEngine) adjacent(key ActivityKey, incoming bool) ([]*Exchange, error) {
	if key.IsZero() {
		return nil, ErrInvalidKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}

	idx := m.byInput[key]
	if incoming {
		idx = m.byOutput[key]
	}
	ids := make([]ExchangeID, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*Exchange, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyExchange(m.exchanges[id]))
	}
	return out, nil
}

// ============================================================================
// Bulk listing
// ============================================================================

// AllActivities returns every activity sorted by key.
func (m *MemoryEngine) AllActivities() ([]*Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Activity, 0, len(m.activities))
	for _, act := range m.activities {
		out = append(out, copyActivity(act))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out, nil
}

// AllExchanges returns every exchange sorted by ID.
func (m *MemoryEngine) AllExchanges() ([]*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Exchange, 0, len(m.exchanges))
	for _, exc := range m.exchanges {
		out = append(out, copyExchange(exc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BulkCreateActivities creates activities one by one, stopping at the
// first error.
func (m *MemoryEngine) BulkCreateActivities(acts []*Activity) error {
	for _, act := range acts {
		if err := m.CreateActivity(act); err != nil {
			return err
		}
	}
	return nil
}

// BulkCreateExchanges creates exchanges one by one, stopping at the first
// error.
func (m *MemoryEngine) BulkCreateExchanges(excs []*Exchange) error {
	for _, exc := range excs {
		if err := m.CreateExchange(exc); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Stats and lifecycle
// ============================================================================

// ActivityCount returns the number of stored activities.
func (m *MemoryEngine) ActivityCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.activities)), nil
}

// ExchangeCount returns the number of stored exchanges.
func (m *MemoryEngine) ExchangeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.exchanges)), nil
}

// Close marks the engine closed. Further operations return
// ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ============================================================================
// Streaming
// ============================================================================

// StreamActivities visits every activity in key order.
func (m *MemoryEngine) StreamActivities(ctx context.Context, fn func(act *Activity) error) error {
	acts, err := m.AllActivities()
	if err != nil {
		return err
	}
	for _, act := range acts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(act); err != nil {
			return err
		}
	}
	return nil
}

// StreamExchanges visits every exchange in ID order.
func (m *MemoryEngine) StreamExchanges(ctx context.Context, fn func(exc *Exchange) error) error {
	excs, err := m.AllExchanges()
	if err != nil {
		return err
	}
	for _, exc := range excs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(exc); err != nil {
			return err
		}
	}
	return nil
}
