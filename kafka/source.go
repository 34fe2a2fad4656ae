// Package kafka provides a Source which consumes JSON product updates from
// Kafka topics using consumer groups.
package kafka

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/catalogstream/enrichd"
	"github.com/catalogstream/enrichd/logger"
	"github.com/pkg/errors"
	segmentio "github.com/segmentio/kafka-go"
)

// Source implements the enrichd.Source interface using kafka as a data
// source. It is not threadsafe! Due to the way Kafka clients work, to
// achieve concurrency, create multiple Sources.
type Source struct {
	Hosts   []string
	Topics  []string
	Group   string
	Log     logger.Logger
	Timeout time.Duration
	SkipOld bool

	reader reader

	spoolBase uint64
	spool     []segmentio.Message
}

// NewSource gets a new Source.
func NewSource() *Source {
	return &Source{
		Hosts:  []string{"localhost:9092"},
		Topics: []string{"product-updates"},
		Group:  "enrichd",
		Log:    logger.NopLogger,
	}
}

// Record returns the next kafka message decoded as an update record. When no
// message arrives within Timeout, it returns enrichd.ErrFlush so the ingest
// loop can flush a partial batch rather than sit on it.
func (s *Source) Record() (enrichd.Record, error) {
	msg, err := s.fetch()
	switch err {
	case nil:
	case io.EOF:
		return nil, io.EOF
	case context.DeadlineExceeded:
		return nil, enrichd.ErrFlush
	default:
		return nil, errors.Wrap(err, "failed to fetch record from Kafka")
	}

	data, err := s.decodeMessage(msg)
	if err != nil {
		return nil, errors.Wrap(err, "decoding kafka message")
	}

	s.spool = append(s.spool, msg)

	return &Record{
		src:       s,
		topic:     msg.Topic,
		partition: msg.Partition,
		offset:    msg.Offset,
		idx:       s.spoolBase + uint64(len(s.spool)),
		data:      data,
	}, nil
}

func (s *Source) fetch() (segmentio.Message, error) {
	ctx := context.Background()
	if s.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	return s.reader.FetchMessage(ctx)
}

// decodeMessage unmarshals the message value and annotates the result with
// partition, offset and delivery-time metadata fields, which ride along into
// the index like any other enrichment field.
func (s *Source) decodeMessage(msg segmentio.Message) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	err := json.Unmarshal(msg.Value, &data)
	if err != nil {
		if jsonError, ok := err.(*json.SyntaxError); ok {
			return nil, errors.Wrapf(err, "unmarshaling kafka message at character offset %v: %s", jsonError.Offset, string(msg.Value))
		}
		return nil, errors.Wrapf(err, "unmarshaling kafka message at unknown character offset: %s", string(msg.Value))
	}

	data["_kafka_partition"] = msg.Partition
	data["_kafka_offset"] = msg.Offset
	data["_kafka_timestamp"] = msg.Time.UTC().Format(time.RFC3339)

	return data, nil
}

// Open initializes the kafka consumer group readers, one per topic.
func (s *Source) Open() error {
	if len(s.Hosts) == 0 {
		return errors.New("needs at least one kafka broker host")
	}
	if len(s.Topics) == 0 {
		return errors.New("needs at least one kafka topic")
	}

	config := segmentio.ReaderConfig{
		Brokers:     s.Hosts,
		GroupID:     s.Group,
		Logger:      segmentio.LoggerFunc(s.Log.Debugf),
		ErrorLogger: s.Log,
	}
	if s.SkipOld {
		config.StartOffset = segmentio.LastOffset
	}

	readers := make(map[string]reader, len(s.Topics))
	for _, topic := range s.Topics {
		config := config
		config.Topic = topic
		readers[topic] = retryReader{segmentio.NewReader(config)}
	}
	s.reader = blendReaders(readers)

	return nil
}

// Close closes the underlying kafka consumer.
func (s *Source) Close() error {
	err := s.reader.Close()
	return errors.Wrap(err, "closing kafka consumer")
}

// Record is one consumed kafka message. Its Commit commits the message's
// offset, and implicitly every spooled message before it.
type Record struct {
	src       *Source
	topic     string
	partition int
	offset    int64
	idx       uint64
	data      map[string]interface{}
}

var _ enrichd.OffsetStreamRecord = &Record{}

func (r *Record) Data() map[string]interface{} {
	return r.data
}

func (r *Record) StreamOffset() (string, uint64) {
	return r.topic + ":" + strconv.Itoa(r.partition), uint64(r.offset)
}

func (r *Record) Commit(ctx context.Context) error {
	idx, base := r.idx, r.src.spoolBase
	if idx < base {
		return errors.New("cannot commit a record that has already been committed")
	}

	section, remaining := r.src.spool[:idx-base], r.src.spool[idx-base:]
	err := r.src.reader.CommitMessages(ctx, section...)
	if err != nil {
		return errors.Wrap(err, "failed to commit messages")
	}

	r.src.spool = remaining
	r.src.spoolBase = idx

	return nil
}
