package batch

// Router maps item identities to their chosen output kind. Absence of
// an explicit assignment falls back to the batch-wide default captured
// at resolve time, so changing the default never rewrites explicit
// choices.
type Router struct {
	def    OutputKind
	byItem map[ItemID]OutputKind
}

func NewRouter(def OutputKind) *Router {
	return &Router{def: def, byItem: make(map[ItemID]OutputKind)}
}

// Assign overwrites any existing assignment for id.
func (r *Router) Assign(id ItemID, kind OutputKind) {
	r.byItem[id] = kind
}

// Unassign drops the explicit assignment for id, if any.
func (r *Router) Unassign(id ItemID) {
	delete(r.byItem, id)
}

// Resolve returns the explicit assignment or the current default.
func (r *Router) Resolve(id ItemID) OutputKind {
	if kind, ok := r.byItem[id]; ok {
		return kind
	}
	return r.def
}

// CountByKind counts how many of ids resolve to kind.
func (r *Router) CountByKind(ids []ItemID, kind OutputKind) int {
	n := 0
	for _, id := range ids {
		if r.Resolve(id) == kind {
			n++
		}
	}
	return n
}

// SetDefault changes the fallback kind for unassigned items.
func (r *Router) SetDefault(kind OutputKind) {
	r.def = kind
}

// Default returns the current fallback kind.
func (r *Router) Default() OutputKind {
	return r.def
}
