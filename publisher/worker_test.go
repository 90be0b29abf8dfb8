package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/lwt/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mu        sync.Mutex
	calls     []mockPublishCall
	failCount atomic.Int32 // publishes to fail before succeeding
	closed    atomic.Bool
}

type mockPublishCall struct {
	topic string
	key   string
	value []byte
}

func (m *mockSink) Publish(topic, key string, value []byte) error {
	if m.failCount.Load() > 0 {
		m.failCount.Add(-1)
		return fmt.Errorf("mock publish failure")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockPublishCall{topic: topic, key: key, value: value})
	return nil
}

func (m *mockSink) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockSink) getCalls() []mockPublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublishCall(nil), m.calls...)
}

func waitForCalls(t *testing.T, sink *mockSink, expected int) []mockPublishCall {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(sink.getCalls()) >= expected
	}, 5*time.Second, 10*time.Millisecond, "expected %d publishes", expected)
	return sink.getCalls()
}

func newTestWorker(t *testing.T, pl *PublishLog, sink Sink, filter Filter) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerConfig{
		Name:         "test",
		Log:          pl,
		Sink:         sink,
		Filter:       filter,
		TopicPrefix:  "lwt",
		PollInterval: 10 * time.Millisecond,
		RetryInitial: 5 * time.Millisecond,
		RetryMax:     20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w
}

func createTestPublishLog(t *testing.T) *PublishLog {
	t.Helper()
	pl, err := NewPublishLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pl.Close() })
	return pl
}

func matchAll(t *testing.T) Filter {
	f, err := NewGlobFilter(nil, nil)
	require.NoError(t, err)
	return f
}

func TestNewWorker_Validation(t *testing.T) {
	pl := createTestPublishLog(t)
	filter := matchAll(t)

	tests := []struct {
		name   string
		config WorkerConfig
		errMsg string
	}{
		{"missing name", WorkerConfig{Log: pl, Sink: &mockSink{}, Filter: filter}, "worker name is required"},
		{"missing log", WorkerConfig{Name: "w", Sink: &mockSink{}, Filter: filter}, "publish log is required"},
		{"missing sink", WorkerConfig{Name: "w", Log: pl, Filter: filter}, "sink is required"},
		{"missing filter", WorkerConfig{Name: "w", Log: pl, Sink: &mockSink{}}, "filter is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWorker(tt.config)
			assert.EqualError(t, err, tt.errMsg)
		})
	}

	w, err := NewWorker(WorkerConfig{Name: "w", Log: pl, Sink: &mockSink{}, Filter: filter})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, w.config.BatchSize)
	assert.Equal(t, DefaultPollInterval, w.config.PollInterval)
	assert.Equal(t, DefaultRetryMultiplier, w.config.RetryMultiplier)
}

func TestWorker_NormalProcessing(t *testing.T) {
	pl := createTestPublishLog(t)
	require.NoError(t, pl.Append([]CommitEvent{testEvent("bank", "accounts", 1), testEvent("bank", "accounts", 2)}))

	sink := &mockSink{}
	w := newTestWorker(t, pl, sink, matchAll(t))
	w.Start()

	calls := waitForCalls(t, sink, 2)
	assert.Equal(t, "lwt.bank.accounts", calls[0].topic)
	assert.Equal(t, "01", calls[0].key)
	assert.Equal(t, "02", calls[1].key)

	var decoded CommitEvent
	require.NoError(t, encoding.Unmarshal(calls[1].value, &decoded))
	assert.Equal(t, uint64(2), decoded.SeqNum)
	assert.Equal(t, "accounts", decoded.Table)

	require.Eventually(t, func() bool { return w.Cursor() == 2 }, time.Second, 5*time.Millisecond)
	cursor, err := pl.GetCursor("test")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cursor)
}

func TestWorker_FilterSkipping(t *testing.T) {
	pl := createTestPublishLog(t)
	require.NoError(t, pl.Append([]CommitEvent{
		testEvent("bank", "audit", 1),
		testEvent("bank", "accounts", 2),
		testEvent("shop", "accounts", 3),
	}))

	filter, err := NewGlobFilter([]string{"acc*"}, []string{"bank"})
	require.NoError(t, err)
	sink := &mockSink{}
	w := newTestWorker(t, pl, sink, filter)
	w.Start()

	require.Eventually(t, func() bool { return w.Cursor() == 3 }, 5*time.Second, 5*time.Millisecond)
	calls := sink.getCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "02", calls[0].key)
}

func TestWorker_RetryOnFailure(t *testing.T) {
	pl := createTestPublishLog(t)
	require.NoError(t, pl.Append([]CommitEvent{testEvent("bank", "accounts", 1)}))

	sink := &mockSink{}
	sink.failCount.Store(3)
	w := newTestWorker(t, pl, sink, matchAll(t))
	w.Start()

	calls := waitForCalls(t, sink, 1)
	assert.Len(t, calls, 1)
	assert.Zero(t, sink.failCount.Load())
}

func TestWorker_GracefulShutdown(t *testing.T) {
	pl := createTestPublishLog(t)
	require.NoError(t, pl.Append([]CommitEvent{testEvent("bank", "accounts", 1)}))

	sink := &mockSink{}
	sink.failCount.Store(1 << 20)
	w := newTestWorker(t, pl, sink, matchAll(t))
	w.Start()
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop while retrying")
	}
	assert.Zero(t, w.Cursor(), "undelivered event must not advance the cursor")

	// Restart is allowed
	w.Start()
	w.Stop()
}

func TestWorker_DeleteWithTombstone(t *testing.T) {
	pl := createTestPublishLog(t)
	deleted := testEvent("bank", "accounts", 7)
	deleted.Update.Deletion = 42
	require.NoError(t, pl.Append([]CommitEvent{deleted}))

	sink := &mockSink{}
	w := newTestWorker(t, pl, sink, matchAll(t))
	w.Start()

	calls := waitForCalls(t, sink, 2)
	assert.NotNil(t, calls[0].value)
	assert.Equal(t, "07", calls[1].key)
	assert.Nil(t, calls[1].value)
}
