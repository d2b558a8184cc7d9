package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/validator-score-ea/internal/config"
	"github.com/yourorg/validator-score-ea/internal/security"
)

type fakeSink struct {
	name    string
	err     error
	mu      sync.Mutex
	batches [][]Record
	calls   chan int
}

func newFakeSink(name string) *fakeSink {
	return &fakeSink{name: name, calls: make(chan int, 16)}
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Export(ctx context.Context, records []Record) error {
	f.mu.Lock()
	f.batches = append(f.batches, records)
	f.mu.Unlock()
	f.calls <- len(records)
	return f.err
}

func (f *fakeSink) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func record(t *testing.T, epoch uint64) Record {
	t.Helper()
	s, err := security.NewSigner("", 0)
	require.NoError(t, err)
	env, err := s.Sign(map[string]uint64{"epoch": epoch})
	require.NoError(t, err)
	return Record{Epoch: epoch, Envelope: env}
}

func TestExporter_FlushesFullBatch(t *testing.T) {
	sink := newFakeSink("fake")
	e := NewExporter(2, time.Hour, sink)
	defer func() { _ = e.Stop(context.Background()) }()

	e.Add(record(t, 1))
	assert.Equal(t, 1, e.Status().CurrentBatch)

	e.Add(record(t, 2))
	select {
	case n := <-sink.calls:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("full batch was not exported")
	}
}

func TestExporter_PeriodicExport(t *testing.T) {
	sink := newFakeSink("fake")
	e := NewExporter(100, 20*time.Millisecond, sink)
	defer func() { _ = e.Stop(context.Background()) }()

	e.Add(record(t, 1))
	select {
	case n := <-sink.calls:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("interval export did not happen")
	}
}

func TestExporter_StopFlushesRemaining(t *testing.T) {
	sink := newFakeSink("fake")
	e := NewExporter(10, time.Hour, sink)

	e.Add(record(t, 1))
	e.Add(record(t, 2))
	require.NoError(t, e.Stop(context.Background()))

	assert.Equal(t, 2, sink.total())
	st := e.Status()
	assert.Equal(t, 2, st.Exported)
	assert.Equal(t, 0, st.CurrentBatch)
	assert.False(t, st.LastExport.IsZero())
}

func TestExporter_SinkFailure(t *testing.T) {
	good := newFakeSink("good")
	bad := newFakeSink("bad")
	bad.err = errors.New("unreachable")

	e := NewExporter(10, time.Hour, good, bad)
	defer func() { _ = e.Stop(context.Background()) }()

	e.Add(record(t, 1))
	err := e.Flush(context.Background())
	assert.ErrorContains(t, err, "unreachable")
	assert.Equal(t, 1, good.total(), "a failing sink does not block the others")
	assert.Equal(t, 1, e.Status().Failures)
}

func TestExporter_NoSinks(t *testing.T) {
	e := FromConfig(config.ExportConfig{Enabled: false})
	e.Add(record(t, 1))

	st := e.Status()
	assert.False(t, st.Enabled)
	assert.Equal(t, 0, st.CurrentBatch)
	assert.NoError(t, e.Stop(context.Background()))
}

func TestFromConfig_BuildsSinks(t *testing.T) {
	e := FromConfig(config.ExportConfig{
		Enabled:      true,
		BatchSize:    5,
		Interval:     time.Hour,
		WebhookURL:   "http://127.0.0.1:0/hook",
		KafkaBrokers: []string{"127.0.0.1:9092"},
		KafkaTopic:   "scores",
	})
	defer e.exportCancel()

	st := e.Status()
	assert.Equal(t, []string{"webhook", "kafka"}, st.Sinks)
	assert.Equal(t, 5, st.BatchSize)
	assert.Equal(t, "1h0m0s", st.ExportInterval)
}

func TestWebhookSink(t *testing.T) {
	var (
		gotAuth string
		gotBody webhookBody
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "secret")
	rec := record(t, 9)
	require.NoError(t, sink.Export(context.Background(), []Record{rec}))

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, 1, gotBody.Count)
	require.Len(t, gotBody.Records, 1)
	assert.Equal(t, uint64(9), gotBody.Records[0].Epoch)
	assert.NoError(t, security.Verify(gotBody.Records[0].Envelope), "envelope survives the round trip")
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, "").Export(context.Background(), []Record{record(t, 1)})
	assert.ErrorContains(t, err, "webhook returned error status: 400")
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w, "scores", "b1:9092", "b2:9092")

	require.NoError(t, sink.Export(context.Background(), []Record{record(t, 41), record(t, 42)}))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "41", string(w.msgs[0].Key))
	assert.Equal(t, "42", string(w.msgs[1].Key))

	var env security.Envelope
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &env))
	assert.NoError(t, security.Verify(env))

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	err := NewKafkaSinkWithWriter(w, "scores", "b1:9092").Export(context.Background(), []Record{record(t, 1)})
	assert.ErrorContains(t, err, "kafka write to topic scores at b1:9092 failed: leader not available")
}
