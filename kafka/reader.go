package kafka

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
	segmentio "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// reader is the slice of the kafka client the Source needs; tests substitute
// an in-memory implementation.
type reader interface {
	FetchMessage(ctx context.Context) (segmentio.Message, error)
	CommitMessages(ctx context.Context, msgs ...segmentio.Message) error
	io.Closer
}

// retryReader retries fetches which fail with temporary broker errors or a
// rebalance in progress.
type retryReader struct {
	*segmentio.Reader
}

func (r retryReader) FetchMessage(ctx context.Context) (segmentio.Message, error) {
	for {
		msg, err := r.Reader.FetchMessage(ctx)
		if err == nil {
			return msg, nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return segmentio.Message{}, cerr
		}
		if err == segmentio.RebalanceInProgress {
			continue
		}
		if kerr, ok := err.(segmentio.Error); ok && kerr.Temporary() {
			continue
		}
		return segmentio.Message{}, err
	}
}

// blendReaders merges the message streams of several single-topic readers
// into one. Commits are routed back to the reader which owns the topic.
func blendReaders(in map[string]reader) reader {
	if len(in) == 1 {
		for _, r := range in {
			return r
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	ch := make(chan segmentio.Message, 10)
	live := uint32(len(in))
	for topic, r := range in {
		topic, r := topic, r
		group.Go(func() (err error) {
			defer func() {
				cerr := r.Close()
				if err == nil {
					err = cerr
				}
				if atomic.AddUint32(&live, ^uint32(0)) == 0 {
					// Last fetcher out closes the channel.
					close(ch)
				}
			}()

			for {
				msg, err := r.FetchMessage(ctx)
				switch err {
				case nil:
				case io.EOF, context.Canceled:
					return nil
				default:
					return errors.Wrapf(err, "fetching from topic %q", topic)
				}

				select {
				case ch <- msg:
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	return &blender{
		readers: in,
		cancel:  cancel,
		group:   group,
		ch:      ch,
	}
}

type blender struct {
	readers map[string]reader
	cancel  context.CancelFunc
	group   *errgroup.Group
	ch      <-chan segmentio.Message
}

func (b *blender) FetchMessage(ctx context.Context) (segmentio.Message, error) {
	if err := ctx.Err(); err != nil {
		return segmentio.Message{}, err
	}

	select {
	case msg, ok := <-b.ch:
		if !ok {
			return segmentio.Message{}, io.EOF
		}
		return msg, nil

	case <-ctx.Done():
		return segmentio.Message{}, ctx.Err()
	}
}

func (b *blender) CommitMessages(ctx context.Context, msgs ...segmentio.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	byTopic := make(map[string][]segmentio.Message, len(b.readers))
	for _, m := range msgs {
		byTopic[m.Topic] = append(byTopic[m.Topic], m)
	}

	group, ctx := errgroup.WithContext(ctx)
	for topic, msgs := range byTopic {
		topic, msgs := topic, msgs
		group.Go(func() error {
			r, ok := b.readers[topic]
			if !ok {
				return errors.Errorf("cannot commit messages: no reader for topic %q", topic)
			}
			return errors.Wrapf(r.CommitMessages(ctx, msgs...), "committing offsets for topic %q", topic)
		})
	}

	return group.Wait()
}

func (b *blender) Close() error {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}

	return b.group.Wait()
}
