package kafka

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/catalogstream/enrichd"
	"github.com/pkg/errors"
	segmentio "github.com/segmentio/kafka-go"
)

// testReader is an in-memory reader implementation. Fetches drain Queue in
// order; once drained it blocks until the fetch context expires, like a
// quiet broker.
type testReader struct {
	Queue     []segmentio.Message
	FetchOff  int
	CommitOff int
	Closed    bool
}

func (r *testReader) FetchMessage(ctx context.Context) (segmentio.Message, error) {
	if err := ctx.Err(); err != nil {
		return segmentio.Message{}, err
	}
	if r.Closed {
		return segmentio.Message{}, io.EOF
	}
	if r.FetchOff == len(r.Queue) {
		<-ctx.Done()
		return segmentio.Message{}, ctx.Err()
	}

	msg := r.Queue[r.FetchOff]
	r.FetchOff++
	return msg, nil
}

func (r *testReader) CommitMessages(ctx context.Context, msgs ...segmentio.Message) error {
	coff := r.CommitOff
	for _, m := range msgs {
		switch {
		case coff == len(r.Queue):
			return errors.New("cannot commit beyond end of data")
		case r.Queue[coff].Offset != m.Offset:
			return errors.Errorf("offset mismatch: expected %d but found %d", r.Queue[coff].Offset, m.Offset)
		default:
			coff++
		}
	}
	r.CommitOff = coff
	return nil
}

func (r *testReader) Close() error {
	r.Closed = true
	return nil
}

func testMessages(topic string, values ...string) []segmentio.Message {
	msgs := make([]segmentio.Message, len(values))
	for i, v := range values {
		msgs[i] = segmentio.Message{
			Topic:     topic,
			Partition: 0,
			Offset:    int64(i),
			Value:     []byte(v),
			Time:      time.Date(2024, 5, 1, 12, 0, i, 0, time.UTC),
		}
	}
	return msgs
}

func TestSourceDecodesAndAnnotates(t *testing.T) {
	t.Parallel()

	src := NewSource()
	src.reader = &testReader{Queue: testMessages("product-updates",
		`{"objectID": "1", "price": 0, "specs": {"color": "red"}}`,
	)}

	rec, err := src.Record()
	if err != nil {
		t.Fatalf("unexpected error getting record: %v", err)
	}

	data := rec.Data()
	if data["objectID"] != "1" {
		t.Errorf("unexpected objectID: %v", data["objectID"])
	}
	if data["price"] != 0.0 {
		t.Errorf("zero price should decode as 0, got %v", data["price"])
	}
	if data["_kafka_partition"] != 0 || data["_kafka_offset"] != int64(0) {
		t.Errorf("missing stream metadata: %+v", data)
	}
	if data["_kafka_timestamp"] != "2024-05-01T12:00:00Z" {
		t.Errorf("unexpected timestamp: %v", data["_kafka_timestamp"])
	}

	osr, ok := rec.(enrichd.OffsetStreamRecord)
	if !ok {
		t.Fatal("kafka records should expose their stream offset")
	}
	if key, offset := osr.StreamOffset(); key != "product-updates:0" || offset != 0 {
		t.Errorf("unexpected stream offset %q %d", key, offset)
	}
}

func TestSourceMalformedMessage(t *testing.T) {
	t.Parallel()

	src := NewSource()
	src.reader = &testReader{Queue: testMessages("product-updates", `{"objectID": `)}

	if _, err := src.Record(); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestSourceFlushOnTimeout(t *testing.T) {
	t.Parallel()

	src := NewSource()
	src.Timeout = 10 * time.Millisecond
	src.reader = &testReader{Queue: testMessages("product-updates", `{"objectID": "1"}`)}

	if _, err := src.Record(); err != nil {
		t.Fatalf("unexpected error getting record: %v", err)
	}

	_, err := src.Record()
	if err != enrichd.ErrFlush {
		t.Fatalf("expected ErrFlush on a quiet feed, got %v", err)
	}
}

func TestRecordCommitSpool(t *testing.T) {
	t.Parallel()

	reader := &testReader{Queue: testMessages("product-updates",
		`{"objectID": "1"}`, `{"objectID": "2"}`, `{"objectID": "3"}`,
	)}
	src := NewSource()
	src.reader = reader

	recs := make([]enrichd.Record, 3)
	for i := range recs {
		rec, err := src.Record()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		recs[i] = rec
	}

	ctx := context.Background()

	// Committing the second record commits everything up to it.
	if err := recs[1].Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if reader.CommitOff != 2 {
		t.Errorf("expected commit offset 2, got %d", reader.CommitOff)
	}

	// A record behind the spool base cannot be committed again.
	if err := recs[0].Commit(ctx); err == nil {
		t.Error("expected recommit of an earlier record to fail")
	}

	if err := recs[2].Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if reader.CommitOff != 3 {
		t.Errorf("expected commit offset 3, got %d", reader.CommitOff)
	}
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	src := NewSource()
	src.Hosts = nil
	if err := src.Open(); err == nil {
		t.Error("expected an error with no brokers")
	}

	src = NewSource()
	src.Topics = nil
	if err := src.Open(); err == nil {
		t.Error("expected an error with no topics")
	}
}
