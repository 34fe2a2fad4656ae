package enrichd

import (
	"context"

	"github.com/pkg/errors"
)

// IDField is the one mandatory field of an update record. It must hold a
// non-empty string; records without it are dropped before they reach the
// merge engine.
const IDField = "objectID"

// ErrFlush is returned from Source.Record when the Source wants to signal
// that there may not be data for a while, so it's a good time to make sure
// all data which has been received is ingested. The record must be nil when
// ErrFlush is returned.
var ErrFlush = errors.New("the Source is requesting the batch be flushed")

type (
	// Source is an interface implemented by sources of product update
	// records. Source implementations are fundamentally not threadsafe; to
	// achieve concurrency, create multiple Sources.
	Source interface {
		// Record returns the next update record, and an optional error.
		// io.EOF means the source is exhausted and will produce no more
		// records. ErrFlush is a hint, not a failure; see above.
		Record() (Record, error)

		Close() error
	}

	// Record is a single schema-free update delivered by a Source.
	Record interface {
		// Commit notifies the Source which produced this record that it
		// and any record which came before it have been completely
		// processed. The Source can then take any necessary action to
		// record which records have been processed, and restart from the
		// earliest unprocessed record in the event of a failure.
		Commit(ctx context.Context) error

		// Data returns the decoded fields of the record. Values are the
		// usual decoded-JSON variants: nil, bool, float64, string, nested
		// map, or slice.
		Data() map[string]interface{}
	}

	// OffsetStreamRecord is an extension of the record type which also
	// tracks offsets within streams.
	OffsetStreamRecord interface {
		Record

		// StreamOffset returns the stream from which the record
		// originated, and the offset of the record within that stream.
		StreamOffset() (key string, offset uint64)
	}

	// Lookuper fetches the records currently stored in the search index
	// for a set of identifiers. An identifier with no stored record is
	// simply absent from the result; absence is not an error.
	Lookuper interface {
		GetExisting(ctx context.Context, ids []string) (map[string]map[string]interface{}, error)
	}

	// Writer persists merged records to the search index. Upsert returns
	// only after the index has confirmed the write is durable and visible.
	Writer interface {
		Upsert(ctx context.Context, recs []map[string]interface{}) error
	}
)
