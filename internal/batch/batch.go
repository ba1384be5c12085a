// Package batch owns the mutable conversion batch: the pending item
// list, per-item output assignments, the progress map, and the
// orchestration that turns items into raster files and documents. The
// CLI shell only submits mutations and reads snapshots; all state is
// guarded here.
package batch

import (
	"sync"

	"heifpress/internal/pdfdoc"
	"heifpress/internal/transform"
)

// OutputKind is the output target resolved for an item.
type OutputKind int

const (
	KindRaster OutputKind = iota
	KindDocument
)

func (k OutputKind) String() string {
	if k == KindDocument {
		return "pdf"
	}
	return "jpeg"
}

// ParseKind maps a user-facing kind name to an OutputKind.
func ParseKind(s string) (OutputKind, bool) {
	switch s {
	case "jpeg", "jpg", "raster":
		return KindRaster, true
	case "pdf", "document":
		return KindDocument, true
	}
	return KindRaster, false
}

// DocumentMode is the batch-wide policy for document-assigned items.
type DocumentMode int

const (
	ModeSeparate DocumentMode = iota
	ModeMerged
)

func (m DocumentMode) String() string {
	if m == ModeMerged {
		return "merged"
	}
	return "separate"
}

// ItemID is the immutable identity assigned to an item at intake. It is
// independent of the user-visible name, so re-adding a same-named file
// starts fresh tracking instead of colliding with in-flight work.
type ItemID uint64

// State is an item's position in its conversion lifecycle.
type State int

const (
	StateQueued State = iota
	StateDecoding
	StateTransforming
	StateEncoding
	StateAssembling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDecoding:
		return "decoding"
	case StateTransforming:
		return "transforming"
	case StateEncoding:
		return "encoding"
	case StateAssembling:
		return "assembling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "queued"
	}
}

func (s State) terminal() bool {
	return s == StateDone || s == StateFailed
}

// Progress checkpoints emitted at state transitions. Coarse by design;
// the only hard rules are monotonicity and 100 exactly on success.
const (
	pctQueued      = 1
	pctDecoded     = 40
	pctTransformed = 70
	pctFinalizing  = 90
	pctDone        = 100
)

// Config is the batch-wide configuration surface exposed to the shell.
type Config struct {
	DefaultKind OutputKind
	Mode        DocumentMode
	Transform   transform.Config
	PageSize    pdfdoc.PageSize
	// GroupSize bounds how many pipelines run concurrently per group.
	GroupSize int
}

// DefaultGroupSize bounds peak decoder and memory usage while still
// overlapping slow per-item work.
const DefaultGroupSize = 3

type item struct {
	id   ItemID
	name string
	data []byte
	size int64
}

// Batch is the orchestrator-owned state for one conversion session.
type Batch struct {
	mu       sync.Mutex
	cfg      Config
	nextID   ItemID
	items    []*item // discovery order
	byName   map[string]ItemID
	router   *Router
	progress map[ItemID]int
	states   map[ItemID]State
	failures map[ItemID]error
}

// New creates an empty batch. A zero or negative group size falls back
// to DefaultGroupSize.
func New(cfg Config) *Batch {
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = DefaultGroupSize
	}
	return &Batch{
		cfg:      cfg,
		byName:   make(map[string]ItemID),
		router:   NewRouter(cfg.DefaultKind),
		progress: make(map[ItemID]int),
		states:   make(map[ItemID]State),
		failures: make(map[ItemID]error),
	}
}

// Add enqueues a source under a fresh identity. Re-adding an existing
// name replaces that item and its tracking entirely; the replacement is
// treated as the most recently added item.
func (b *Batch) Add(name string, data []byte) ItemID {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.byName[name]; ok {
		b.dropLocked(old)
	}

	b.nextID++
	id := b.nextID
	b.items = append(b.items, &item{id: id, name: name, data: data, size: int64(len(data))})
	b.byName[name] = id
	return id
}

// Remove discards an item. In-flight work for it keeps running but its
// progress stops updating and its results are discarded.
func (b *Batch) Remove(id ItemID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, it := range b.items {
		if it.id == id {
			delete(b.byName, it.name)
			b.dropLocked(id)
			return true
		}
	}
	return false
}

// RemoveByName removes the item currently registered under name.
func (b *Batch) RemoveByName(name string) bool {
	b.mu.Lock()
	id, ok := b.byName[name]
	b.mu.Unlock()
	if !ok {
		return false
	}
	return b.Remove(id)
}

// Clear empties the batch and resets all tracking.
func (b *Batch) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = nil
	b.byName = make(map[string]ItemID)
	b.router = NewRouter(b.cfg.DefaultKind)
	b.progress = make(map[ItemID]int)
	b.states = make(map[ItemID]State)
	b.failures = make(map[ItemID]error)
}

func (b *Batch) dropLocked(id ItemID) {
	for i, it := range b.items {
		if it.id == id {
			b.items = append(b.items[:i], b.items[i+1:]...)
			break
		}
	}
	b.router.Unassign(id)
	delete(b.progress, id)
	delete(b.states, id)
	delete(b.failures, id)
}

// Len reports the number of pending items.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// SetDefaultKind changes the batch-wide default output. Explicit
// per-item assignments are unaffected.
func (b *Batch) SetDefaultKind(k OutputKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.DefaultKind = k
	b.router.SetDefault(k)
}

// SetMode selects separate or merged document output. Merged with fewer
// than two document items is accepted as a trivial case.
func (b *Batch) SetMode(m DocumentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Mode = m
}

// Assign overrides the output kind for one item. Unknown identities are
// a no-op.
func (b *Batch) Assign(id ItemID, kind OutputKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasLocked(id) {
		return
	}
	b.router.Assign(id, kind)
}

// AssignByName resolves name to its current identity and assigns kind.
func (b *Batch) AssignByName(name string, kind OutputKind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byName[name]
	if !ok {
		return false
	}
	b.router.Assign(id, kind)
	return true
}

// Resolve returns the item's assigned kind or the batch default.
func (b *Batch) Resolve(id ItemID) OutputKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.router.Resolve(id)
}

// CountByKind counts pending items that resolve to kind.
func (b *Batch) CountByKind(kind OutputKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]ItemID, len(b.items))
	for i, it := range b.items {
		ids[i] = it.id
	}
	return b.router.CountByKind(ids, kind)
}

// MergedSelectable reports whether the merged mode toggle should be
// offered: at least two items must resolve to document output. This is
// a shell affordance, not an orchestrator precondition.
func (b *Batch) MergedSelectable() bool {
	return b.CountByKind(KindDocument) >= 2
}

// Progress returns the item's percent, or false if it is not tracked.
func (b *Batch) Progress(id ItemID) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pct, ok := b.progress[id]
	return pct, ok
}

// ItemView is a read-only snapshot of one item for rendering.
type ItemView struct {
	ID      ItemID
	Name    string
	Size    int64
	Kind    OutputKind
	State   State
	Percent int
	Err     string
}

// Snapshot lists pending items most-recent-first.
func (b *Batch) Snapshot() []ItemView {
	b.mu.Lock()
	defer b.mu.Unlock()

	views := make([]ItemView, 0, len(b.items))
	for i := len(b.items) - 1; i >= 0; i-- {
		it := b.items[i]
		v := ItemView{
			ID:      it.id,
			Name:    it.name,
			Size:    it.size,
			Kind:    b.router.Resolve(it.id),
			State:   b.states[it.id],
			Percent: b.progress[it.id],
		}
		if err := b.failures[it.id]; err != nil {
			v.Err = err.Error()
		}
		views = append(views, v)
	}
	return views
}

func (b *Batch) hasLocked(id ItemID) bool {
	for _, it := range b.items {
		if it.id == id {
			return true
		}
	}
	return false
}

// advance moves an item to state with at least pct progress. Updates
// for removed or already-terminal items are dropped, which is how
// mid-flight removal quietly detaches its pipeline.
func (b *Batch) advance(id ItemID, state State, pct int, updates chan<- ProgressUpdate) {
	b.mu.Lock()
	if !b.hasLocked(id) || b.states[id].terminal() {
		b.mu.Unlock()
		return
	}
	if pct < b.progress[id] {
		pct = b.progress[id]
	}
	b.states[id] = state
	b.progress[id] = pct
	name := b.nameLocked(id)
	b.mu.Unlock()

	if updates != nil {
		updates <- ProgressUpdate{Item: name, State: state, Percent: pct}
	}
}

// fail marks an item Failed, keeping its last progress value.
func (b *Batch) fail(id ItemID, err error, updates chan<- ProgressUpdate) {
	b.mu.Lock()
	if !b.hasLocked(id) || b.states[id].terminal() {
		b.mu.Unlock()
		return
	}
	b.states[id] = StateFailed
	b.failures[id] = err
	pct := b.progress[id]
	name := b.nameLocked(id)
	b.mu.Unlock()

	if updates != nil {
		updates <- ProgressUpdate{Item: name, State: StateFailed, Percent: pct, FailedDelta: 1}
	}
}

// finish marks an item Done at exactly 100.
func (b *Batch) finish(id ItemID, outputs int, updates chan<- ProgressUpdate) {
	b.mu.Lock()
	if !b.hasLocked(id) || b.states[id].terminal() {
		b.mu.Unlock()
		return
	}
	b.states[id] = StateDone
	b.progress[id] = pctDone
	name := b.nameLocked(id)
	b.mu.Unlock()

	if updates != nil {
		updates <- ProgressUpdate{Item: name, State: StateDone, Percent: pctDone, DoneDelta: 1, OutputDelta: outputs}
	}
}

func (b *Batch) alive(id ItemID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasLocked(id)
}

func (b *Batch) nameLocked(id ItemID) string {
	for _, it := range b.items {
		if it.id == id {
			return it.name
		}
	}
	return ""
}

func (b *Batch) state(id ItemID) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.states[id]
}
