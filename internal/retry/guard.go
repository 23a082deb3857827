package retry

// CleanupGuard clears a tracker entry when the surrounding handler exits,
// unless the success path defused it first. Deferring Cleanup is what
// keeps the tracker bounded when a handler panics or returns early.
//
//	g := retry.NewCleanupGuard(tracker, jobID)
//	defer g.Cleanup()
//	...
//	g.Defuse() // success: state already cleared deliberately
type CleanupGuard struct {
	tracker *Tracker
	id      string
	defused bool
}

func NewCleanupGuard(tracker *Tracker, id string) *CleanupGuard {
	return &CleanupGuard{tracker: tracker, id: id}
}

// Defuse marks the guard as handled; Cleanup becomes a no-op.
func (g *CleanupGuard) Defuse() {
	g.defused = true
}

// Cleanup clears the tracker entry unless defused. Safe to call more than
// once.
func (g *CleanupGuard) Cleanup() {
	if g.defused {
		return
	}
	g.defused = true
	g.tracker.Clear(g.id)
}
