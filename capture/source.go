// Package capture provides a Source which replays product updates from a
// static JSON capture file, for demo runs without a live feed.
package capture

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/catalogstream/enrichd"
	"github.com/catalogstream/enrichd/logger"
	"github.com/pkg/errors"
)

// Source replays a finite, ordered capture of update records. The capture is
// parsed once in Open; Record then yields each record in file order and
// io.EOF at the end. Records are not deduplicated by identifier, so a
// capture carrying the same identifier twice exercises the same in-batch
// ordering the live feed can produce.
type Source struct {
	Path string
	Log  logger.Logger

	recs []map[string]interface{}
	next int
}

func NewSource() *Source {
	return &Source{
		Log: logger.NopLogger,
	}
}

// Open reads and parses the capture file. The file must hold a JSON array
// of objects; anything else is a fatal source error.
func (s *Source) Open() error {
	if s.Path == "" {
		return errors.New("needs a capture file path")
	}

	buf, err := os.ReadFile(s.Path)
	if err != nil {
		return errors.Wrap(err, "reading capture file")
	}

	var recs []map[string]interface{}
	if err := json.Unmarshal(buf, &recs); err != nil {
		return errors.Wrapf(err, "parsing capture file %s", s.Path)
	}

	processedAt := time.Now().UTC().Format(time.RFC3339)
	for _, rec := range recs {
		if rec != nil {
			rec["_processed_at"] = processedAt
		}
	}
	s.recs = recs

	s.Log.Printf("loaded %d records from %s", len(recs), s.Path)
	return nil
}

func (s *Source) Record() (enrichd.Record, error) {
	if s.next >= len(s.recs) {
		return nil, io.EOF
	}
	rec := Record{data: s.recs[s.next]}
	s.next++
	return rec, nil
}

func (s *Source) Close() error {
	return nil
}

// Record is one replayed capture entry.
type Record struct {
	data map[string]interface{}
}

func (r Record) Data() map[string]interface{} {
	return r.data
}

// Commit is a no-op: a capture replay has no offsets to checkpoint.
func (r Record) Commit(ctx context.Context) error {
	return nil
}
