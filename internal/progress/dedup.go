package progress

// Deduplicator suppresses re-application of record patches already seen for the active job.
// Only record updates go through it; status events are full snapshots and idempotent.
type Deduplicator struct {
	seen map[string]struct{}
}

// NewDeduplicator creates an empty deduplicator
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// ShouldApply records sequenceID on first sight and reports whether the patch should be applied.
// An empty sequence id is never applied.
func (d *Deduplicator) ShouldApply(sequenceID string) bool {
	if sequenceID == "" {
		return false
	}
	if _, ok := d.seen[sequenceID]; ok {
		return false
	}
	d.seen[sequenceID] = struct{}{}
	return true
}

// Reset forgets every sequence id
func (d *Deduplicator) Reset() {
	d.seen = make(map[string]struct{})
}

// Len returns the number of tracked sequence ids
func (d *Deduplicator) Len() int {
	return len(d.seen)
}
