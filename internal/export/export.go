// Package export batches signed ranking snapshots and publishes them to
// downstream consumers.
package export

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/validator-score-ea/internal/config"
	"github.com/yourorg/validator-score-ea/internal/security"
)

// Record is one signed snapshot queued for export
type Record struct {
	Epoch    uint64            `json:"epoch"`
	Envelope security.Envelope `json:"envelope"`
}

// Sink delivers a batch of records to one destination
type Sink interface {
	Name() string
	Export(ctx context.Context, records []Record) error
}

// Status describes the exporter for operators
type Status struct {
	Enabled        bool      `json:"enabled"`
	Sinks          []string  `json:"sinks"`
	BatchSize      int       `json:"batchSize"`
	ExportInterval string    `json:"exportInterval"`
	CurrentBatch   int       `json:"currentBatch"`
	Exported       int       `json:"exported"`
	Failures       int       `json:"failures"`
	LastExport     time.Time `json:"lastExport,omitempty"`
}

// Exporter collects records and flushes them when the batch is full or the
// export interval elapses.
type Exporter struct {
	sinks          []Sink
	batchSize      int
	exportInterval time.Duration

	mutex      sync.Mutex
	batch      []Record
	lastExport time.Time
	exported   int
	failures   int

	exportContext context.Context
	exportCancel  context.CancelFunc
	done          chan struct{}
}

// NewExporter starts an exporter over the given sinks. With no sinks it is a
// no-op that drops every record.
func NewExporter(batchSize int, interval time.Duration, sinks ...Sink) *Exporter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if interval <= 0 {
		interval = time.Minute
	}

	e := &Exporter{
		sinks:          sinks,
		batchSize:      batchSize,
		exportInterval: interval,
		batch:          make([]Record, 0, batchSize),
		done:           make(chan struct{}),
	}
	e.exportContext, e.exportCancel = context.WithCancel(context.Background())

	if len(sinks) == 0 {
		close(e.done)
		return e
	}

	go e.periodicExport()

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	logrus.WithFields(logrus.Fields{
		"sinks":      names,
		"batch_size": batchSize,
		"interval":   interval.String(),
	}).Info("Snapshot exporter initialized")
	return e
}

// FromConfig builds the sinks named by cfg and starts an exporter.
func FromConfig(cfg config.ExportConfig) *Exporter {
	if !cfg.Enabled {
		return NewExporter(cfg.BatchSize, cfg.Interval)
	}

	var sinks []Sink
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.WebhookURL, cfg.WebhookAPIKey))
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	return NewExporter(cfg.BatchSize, cfg.Interval, sinks...)
}

// Add queues a record. A full batch is exported in the background.
func (e *Exporter) Add(rec Record) {
	if len(e.sinks) == 0 {
		return
	}

	e.mutex.Lock()
	e.batch = append(e.batch, rec)
	full := len(e.batch) >= e.batchSize
	e.mutex.Unlock()

	if full {
		go e.Flush(e.exportContext)
	}
}

// periodicExport runs a background task to periodically export records
func (e *Exporter) periodicExport() {
	defer close(e.done)

	ticker := time.NewTicker(e.exportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Flush(e.exportContext)
		case <-e.exportContext.Done():
			return
		}
	}
}

// Flush exports the current batch to every sink in parallel and returns the
// joined sink errors.
func (e *Exporter) Flush(ctx context.Context) error {
	e.mutex.Lock()
	if len(e.batch) == 0 {
		e.mutex.Unlock()
		return nil
	}
	records := e.batch
	e.batch = make([]Record, 0, e.batchSize)
	e.lastExport = time.Now()
	e.mutex.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, sink := range e.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			if err := sink.Export(ctx, records); err != nil {
				logrus.WithError(err).WithField("sink", sink.Name()).Error("Failed to export snapshots")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(sink)
	}
	wg.Wait()

	e.mutex.Lock()
	e.exported += len(records)
	e.failures += len(errs)
	e.mutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"records": len(records),
		"sinks":   len(e.sinks),
		"failed":  len(errs),
	}).Info("Exported ranking snapshots")

	return errors.Join(errs...)
}

// Stop cleanly stops the exporter, exports any remaining records and
// closes sinks that hold connections.
func (e *Exporter) Stop(ctx context.Context) error {
	e.exportCancel()
	<-e.done

	err := e.Flush(ctx)
	for _, sink := range e.sinks {
		if c, ok := sink.(interface{ Close() error }); ok {
			if cerr := c.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	}
	return err
}

// Status returns the current status of the exporter
func (e *Exporter) Status() Status {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	names := make([]string, 0, len(e.sinks))
	for _, s := range e.sinks {
		names = append(names, s.Name())
	}

	return Status{
		Enabled:        len(e.sinks) > 0,
		Sinks:          names,
		BatchSize:      e.batchSize,
		ExportInterval: e.exportInterval.String(),
		CurrentBatch:   len(e.batch),
		Exported:       e.exported,
		Failures:       e.failures,
		LastExport:     e.lastExport,
	}
}
