package mapper

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/k-butz/tedge-c8y-mapper/internal/bus"
	"github.com/k-butz/tedge-c8y-mapper/internal/converter"
	"github.com/k-butz/tedge-c8y-mapper/internal/journal"
)

func TestHealthStatusTopic(t *testing.T) {
	cases := []struct {
		topic    string
		wantOk   bool
		wantGoal string
	}{
		{"health/check", true, "health/status/mapper"},
		{"health/check/tedge-agent", true, "health/status/tedge-agent"},
		{"local/measurements", false, ""},
		{"health/checked", false, ""},
	}

	for _, tc := range cases {
		got, ok := healthStatusTopic(tc.topic)
		if ok != tc.wantOk {
			t.Errorf("healthStatusTopic(%q) ok = %v, want %v", tc.topic, ok, tc.wantOk)
			continue
		}
		if ok && got != tc.wantGoal {
			t.Errorf("healthStatusTopic(%q) = %q, want %q", tc.topic, got, tc.wantGoal)
		}
	}
}

// fakeConn drives Loop.Run without a real broker.
type fakeConn struct {
	received chan bus.Message
	errs     chan error

	mu           sync.Mutex
	published    []bus.Message
	disconnected bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		received: make(chan bus.Message, 16),
		errs:     make(chan error, 1),
	}
}

func (f *fakeConn) Publish(m bus.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, m)
	return nil
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeConn) Received() <-chan bus.Message { return f.received }
func (f *fakeConn) Errors() <-chan error         { return f.errs }

func (f *fakeConn) publishedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, m := range f.published {
		out[i] = m.Topic
	}
	return out
}

func (f *fakeConn) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

var _ connection = (*fakeConn)(nil)

// fakeConverter records which phase methods were invoked, in order, so
// a test can assert Run's sequencing without a real Cumulocity target.
type fakeConverter struct {
	mu    sync.Mutex
	calls []string
}

func (c *fakeConverter) Subscriptions() bus.TopicFilter {
	return bus.NewTopicFilter("local/#")
}

func (c *fakeConverter) InitMessages(ctx context.Context) []bus.Message {
	c.record("init")
	return []bus.Message{bus.New("cloud/out", "init")}
}

func (c *fakeConverter) SyncMessages() []bus.Message {
	c.record("sync")
	return []bus.Message{bus.New("cloud/out", "sync")}
}

func (c *fakeConverter) Convert(ctx context.Context, msg bus.Message) ([]bus.Message, error) {
	c.record("convert:" + msg.Topic)
	return []bus.Message{bus.New("cloud/out", "converted:"+msg.Topic)}, nil
}

func (c *fakeConverter) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeConverter) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

var _ converter.Converter = (*fakeConverter)(nil)

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// TestLoopRunSequencing drives Run end to end against a fake connection:
// a message delivered during the sync window must reach the converter
// before SyncMessages is called, and once the forever loop is running,
// ordinary messages must route through the converter while health
// checks must bypass it.
func TestLoopRunSequencing(t *testing.T) {
	conv := &fakeConverter{}
	j := openTestJournal(t)
	l := New(bus.Config{}, conv, nil, j, 20*time.Millisecond, zap.NewNop())

	conn := newFakeConn()
	l.dial = func(bus.Config, bus.TopicFilter, *zap.Logger) (connection, error) {
		return conn, nil
	}

	conn.received <- bus.New("local/measurements", `{"temp":1}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	conn.received <- bus.New("local/events/click", `{"text":"hi"}`)
	conn.received <- bus.New("health/check", "")

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if !conn.wasDisconnected() {
		t.Error("Run did not disconnect the connection before returning")
	}

	calls := conv.snapshot()
	if len(calls) < 3 || calls[0] != "init" || calls[1] != "convert:local/measurements" || calls[2] != "sync" {
		t.Fatalf("unexpected converter call order: %v", calls)
	}

	var routedClick bool
	for _, c := range calls[3:] {
		if c == "convert:local/events/click" {
			routedClick = true
		}
	}
	if !routedClick {
		t.Errorf("runForever did not route local/events/click through the converter: %v", calls)
	}

	var answeredHealth bool
	for _, topic := range conn.publishedTopics() {
		if topic == "health/status/mapper" {
			answeredHealth = true
		}
	}
	if !answeredHealth {
		t.Errorf("runForever did not answer the health check: %v", conn.publishedTopics())
	}
}

// TestLoopRunRepairsJournal checks that a live journal entry left over
// from a crashed operation is reported as failed and cleared before the
// forever loop starts.
func TestLoopRunRepairsJournal(t *testing.T) {
	conv := &fakeConverter{}
	j := openTestJournal(t)
	if err := j.Write(journal.Entry{ID: "c8y_Restart", Kind: journal.KindRestart}); err != nil {
		t.Fatalf("seed journal: %v", err)
	}

	l := New(bus.Config{}, conv, nil, j, 10*time.Millisecond, zap.NewNop())
	conn := newFakeConn()
	l.dial = func(bus.Config, bus.TopicFilter, *zap.Logger) (connection, error) {
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(40 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if _, ok, _ := j.Read(); ok {
		t.Error("journal entry was not cleared during startup repair")
	}

	topics := conn.publishedTopics()
	if len(topics) == 0 || topics[0] != "cloud/out" {
		t.Fatalf("expected a repair status published first, got %v", topics)
	}
}
