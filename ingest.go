package enrichd

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/catalogstream/enrichd/logger"
	"github.com/catalogstream/enrichd/searchidx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest modes. Demo replays a finite capture file once; live consumes an
// unbounded feed until told to stop.
const (
	ModeDemo = "demo"
	ModeLive = "live"
)

// RunStats are the counters for one ingestion run. They are owned and
// mutated only by Main's single control loop and reported at shutdown.
// Parallel batch processing would need to serialize these; nothing does
// that today because batches are strictly sequential.
type RunStats struct {
	MessagesProcessed int64
	RecordsWritten    int64
	RecordsSkipped    int64
	BatchErrors       int64
}

// Main holds the configuration for an ingestion run and wires
// Source -> Batcher -> Lookup -> Merge -> Writer together. Consumer commands
// embed Main and install their Source through NewSource.
type Main struct {
	BatchSize     int    `help:"Number of records to accumulate before a lookup/merge/write cycle."`
	IndexAppID    string `help:"Application ID of the search index. Required."`
	IndexAPIKey   string `help:"Admin API key of the search index. Required."`
	IndexName     string `help:"Name of the search index to enrich."`
	IndexEndpoint string `help:"Base URL of the search index API. Derived from the application ID when empty."`
	LogPath       string `help:"Log file. Logs go to stderr only when empty."`
	Verbose       bool   `help:"Enable debug logging."`
	DryRun        bool   `help:"Dump the configuration and exit without ingesting."`
	Stats         string `help:"Bind address for the Prometheus metrics endpoint. Empty disables it."`

	// NewSource is set by the embedding command and must return an opened
	// Source. It is called after logging is set up, so it may use Log().
	NewSource func() (Source, error) `flag:"-"`

	// Lookup and Index default to a searchidx client built from the Index*
	// options above. Tests inject fakes here.
	Lookup Lookuper `flag:"-"`
	Index  Writer   `flag:"-"`

	log   logger.Logger
	stats RunStats
}

func NewMain() *Main {
	return &Main{
		BatchSize: DefaultBatchSize,
		IndexName: "products",
	}
}

// Log returns the run logger. It is nil until Run has set up logging.
func (m *Main) Log() logger.Logger {
	return m.log
}

// RunStats returns a copy of the counters for the current run.
func (m *Main) RunStats() RunStats {
	return m.stats
}

// setup validates the configuration and prepares the logger and index
// clients. Missing required options are reported together, by name, so the
// operator can fix them in one pass.
func (m *Main) setup() error {
	if m.BatchSize < 1 {
		return errors.Errorf("batch-size must be a positive integer, got %d", m.BatchSize)
	}

	if m.log == nil {
		logOut := io.Writer(os.Stderr)
		if m.LogPath != "" {
			f, err := logger.NewFileWriter(m.LogPath)
			if err != nil {
				return errors.Wrap(err, "opening log file")
			}
			logOut = io.MultiWriter(os.Stderr, f)
		}
		if m.Verbose {
			m.log = logger.NewVerboseLogger(logOut)
		} else {
			m.log = logger.NewStandardLogger(logOut)
		}
	}

	if m.Lookup == nil || m.Index == nil {
		var missing []string
		if m.IndexAppID == "" {
			missing = append(missing, "index-app-id")
		}
		if m.IndexAPIKey == "" {
			missing = append(missing, "index-api-key")
		}
		if len(missing) > 0 {
			return errors.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
		}
		client := searchidx.NewClient(searchidx.Config{
			Endpoint: m.IndexEndpoint,
			AppID:    m.IndexAppID,
			APIKey:   m.IndexAPIKey,
			Index:    m.IndexName,
			Log:      m.log,
		})
		if m.Lookup == nil {
			m.Lookup = client
		}
		if m.Index == nil {
			m.Index = client
		}
	}

	return nil
}

// Run drives one full ingestion run: pull records from the source, batch
// them, and reconcile each full batch into the index. It returns after the
// source is exhausted or a stop signal arrives, flushing any partial batch
// first. Batch-local failures are counted and logged, never returned; only
// configuration and source failures abort the run. The run summary is
// reported on every exit path.
func (m *Main) Run() error {
	if err := m.setup(); err != nil {
		return err
	}
	if m.NewSource == nil {
		return errors.New("no source configured")
	}
	source, err := m.NewSource()
	if err != nil {
		return errors.Wrap(err, "opening source")
	}
	defer source.Close()

	if m.Stats != "" {
		go func() {
			if err := http.ListenAndServe(m.Stats, promhttp.Handler()); err != nil {
				m.log.Errorf("stats endpoint: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case s := <-sigs:
			m.log.Printf("caught %v: finishing in-flight batch before stopping", s)
			cancel()
		case <-ctx.Done():
		}
	}()

	m.log.Printf("ingesting into index %q, batch size %d", m.IndexName, m.BatchSize)
	defer m.report()

	batcher := NewBatcher(m.BatchSize)
	var pending Record

	for {
		rec, rerr := source.Record()
		switch rerr {
		case nil:
		case io.EOF:
			m.log.Printf("source exhausted")
			m.processBatch(batcher.Flush(), pending)
			return nil
		case ErrFlush:
			if batcher.Len() > 0 {
				m.processBatch(batcher.Flush(), pending)
				pending = nil
			}
			if ctx.Err() != nil {
				return nil
			}
			continue
		default:
			if ctx.Err() != nil {
				// The stop signal interrupted the fetch.
				m.processBatch(batcher.Flush(), pending)
				return nil
			}
			m.processBatch(batcher.Flush(), pending)
			return errors.Wrap(rerr, "reading record from source")
		}

		m.stats.MessagesProcessed++
		CounterMessagesProcessed.Inc()

		data := rec.Data()
		if id, ok := data[IDField].(string); !ok || id == "" {
			m.stats.RecordsSkipped++
			CounterRecordsSkipped.Inc()
			m.log.Debugf("dropping record without a valid %q field", IDField)
			continue
		}

		pending = rec
		if batcher.Add(data) {
			m.processBatch(batcher.Flush(), pending)
			pending = nil
		}
		if ctx.Err() != nil {
			m.processBatch(batcher.Flush(), pending)
			return nil
		}
	}
}

// processBatch reconciles one batch: point-lookup of the stored records,
// merge, durable write, then source checkpoint. A lookup failure degrades to
// treating every record in the batch as new. A write failure drops the batch
// and counts it. Once started, a batch always runs to completion, so this
// deliberately does not take the run's cancellation context.
func (m *Main) processBatch(batch []map[string]interface{}, last Record) {
	if len(batch) == 0 {
		return
	}
	ctx := context.Background()

	existing, err := m.Lookup.GetExisting(ctx, BatchIDs(batch))
	if err != nil {
		m.log.Warnf("could not fetch existing records, treating all %d as new: %v", len(batch), err)
		existing = nil
	}

	merged := Merge(batch, existing)
	if err := m.Index.Upsert(ctx, merged); err != nil {
		m.stats.BatchErrors++
		CounterBatchErrors.Inc()
		m.log.Errorf("writing batch of %d records: %v", len(merged), err)
		return
	}
	m.stats.RecordsWritten += int64(len(merged))
	CounterRecordsWritten.Add(float64(len(merged)))
	m.log.Printf("wrote %d records", len(merged))

	// Checkpoint the source only after the write is confirmed; on restart
	// the feed redelivers anything past the checkpoint, and the merge is
	// idempotent over redelivery.
	if last != nil {
		if err := last.Commit(ctx); err != nil {
			m.log.Warnf("committing source offset: %v", err)
		}
	}
}

func (m *Main) report() {
	m.log.Printf("run summary: messages processed: %d, records written: %d, records skipped: %d, batch errors: %d",
		m.stats.MessagesProcessed, m.stats.RecordsWritten, m.stats.RecordsSkipped, m.stats.BatchErrors)
}
