package enrichd

// DefaultBatchSize is the number of records accumulated per write cycle when
// no batch size is configured.
const DefaultBatchSize = 100

// Batcher accumulates update records until a configured threshold is
// reached. It does not flush itself; the ingest loop asks for the
// accumulated records via Flush when Add reports the batch full, on a
// flush hint from the source, and at end of input.
type Batcher struct {
	threshold int
	recs      []map[string]interface{}
}

func NewBatcher(threshold int) *Batcher {
	if threshold < 1 {
		threshold = DefaultBatchSize
	}
	return &Batcher{threshold: threshold}
}

// Add appends rec to the current batch and reports whether the batch has
// reached the flush threshold.
func (b *Batcher) Add(rec map[string]interface{}) bool {
	b.recs = append(b.recs, rec)
	return len(b.recs) >= b.threshold
}

// Len returns the number of records accumulated so far.
func (b *Batcher) Len() int {
	return len(b.recs)
}

// Flush returns the accumulated records in arrival order and resets the
// batcher. Partial batches are returned as-is, never dropped; an empty
// batcher flushes to nil.
func (b *Batcher) Flush() []map[string]interface{} {
	recs := b.recs
	b.recs = nil
	return recs
}
