package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notejournal/journal/internal/journal/markdown"
	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/reconcile"
	"github.com/notejournal/journal/internal/journal/store"
	"github.com/notejournal/journal/internal/journal/transport"
	"github.com/notejournal/journal/internal/journal/verify"
)

var quiet = log.New(io.Discard, "", 0)

// fakeConn stands in for a relay connection.
type fakeConn struct {
	mu       sync.Mutex
	sent     []model.Payload
	incoming chan model.Payload
	done     chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan model.Payload, 16),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, p model.Payload) error {
	select {
	case <-c.done:
		return transport.ErrNotConnected
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, p)
	return nil
}

func (c *fakeConn) Incoming() <-chan model.Payload { return c.incoming }
func (c *fakeConn) Done() <-chan struct{}          { return c.done }
func (c *fakeConn) Err() error                     { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.incoming)
		close(c.done)
	})
	return nil
}

func (c *fakeConn) payloads() []model.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Payload(nil), c.sent...)
}

type testEnv struct {
	db       *store.DB
	engine   *reconcile.Engine
	verifier *verify.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.OpenAndInit(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenAndInit() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &testEnv{
		db:       db,
		engine:   reconcile.New(db, quiet),
		verifier: verify.NewService(db, quiet),
	}
}

// startDaemon runs d in the background and stops it when the test ends.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() *Config {
	return &Config{
		DebounceInterval: 20 * time.Millisecond,
		MinBackoff:       10 * time.Millisecond,
		MaxBackoff:       50 * time.Millisecond,
		Location:         time.UTC,
		Logger:           quiet,
	}
}

func TestNew(t *testing.T) {
	env := newTestEnv(t)
	dial := func(ctx context.Context) (Conn, error) { return newFakeConn(), nil }

	tests := []struct {
		name     string
		dial     Dialer
		engine   *reconcile.Engine
		verifier *verify.Service
		days     DayReader
		wantErr  bool
	}{
		{"valid", dial, env.engine, env.verifier, env.db, false},
		{"nil dialer", nil, env.engine, env.verifier, env.db, true},
		{"nil engine", dial, nil, env.verifier, env.db, true},
		{"nil verifier", dial, env.engine, nil, env.db, true},
		{"nil day reader", dial, env.engine, env.verifier, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.dial, tt.engine, tt.verifier, tt.days, testConfig())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && d == nil {
				t.Fatal("New() returned nil daemon")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	env := newTestEnv(t)
	dial := func(ctx context.Context) (Conn, error) { return newFakeConn(), nil }

	d, err := New(dial, env.engine, env.verifier, env.db, &Config{MinBackoff: time.Minute})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if d.config.DebounceInterval != DefaultConfig().DebounceInterval {
		t.Errorf("DebounceInterval = %s, want default", d.config.DebounceInterval)
	}
	if d.config.MaxBackoff != time.Minute {
		t.Errorf("MaxBackoff = %s, want raised to MinBackoff", d.config.MaxBackoff)
	}
	if d.config.Logger == nil || d.config.Location == nil {
		t.Error("Logger and Location should be defaulted")
	}
}

func TestDaemon_UploadsPendingOnConnect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No publisher yet, so the entry stays queued
	local, err := env.engine.AddEntry(ctx, "written offline", "Work", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("AddEntry() failed: %v", err)
	}

	conn := newFakeConn()
	d, err := New(func(ctx context.Context) (Conn, error) { return conn, nil }, env.engine, env.verifier, env.db, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "upload", func() bool { return len(conn.payloads()) > 0 })

	entries, ok := conn.payloads()[0].(*model.Entries)
	if !ok {
		t.Fatalf("first payload = %T, want *model.Entries", conn.payloads()[0])
	}
	if len(entries.Data) != 1 || entries.Data[0].ID != local.ID {
		t.Errorf("uploaded %+v, want entry %s", entries.Data, local.ID)
	}

	waitFor(t, "uploaded flag", func() bool {
		got, err := env.db.GetEntry(ctx, local.ID)
		return err == nil && got.Uploaded
	})
	if !d.Connected() {
		t.Error("Connected() = false while the connection is open")
	}
}

func TestDaemon_AppliesIncomingPayloads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conn := newFakeConn()
	d, err := New(func(ctx context.Context) (Conn, error) { return conn, nil }, env.engine, env.verifier, env.db, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	phone := model.Sender{Name: "phone", ID: "phone-id"}
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	conn.incoming <- &model.Entries{
		Data:   []model.JournalEntry{{ID: "e1", EntryTime: at, TimeZone: "UTC", Text: "from phone", Tag: "Work"}},
		Sender: phone,
	}
	conn.incoming <- &model.Entries{
		Data:   []model.JournalEntry{{ID: "e1", EntryTime: at, TimeZone: "UTC", Text: "edited on phone", Tag: "Work"}},
		Sender: phone,
	}

	waitFor(t, "conflict", func() bool { return d.Stats().Conflicts == 1 })

	got, err := env.db.GetEntry(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEntry() failed: %v", err)
	}
	if got.Text != "from phone" {
		t.Errorf("Text = %q, want first copy kept", got.Text)
	}
	conflict, err := env.db.ConflictForEntry(ctx, "e1")
	if err != nil {
		t.Fatalf("ConflictForEntry() failed: %v", err)
	}
	if conflict.Text != "edited on phone" {
		t.Errorf("conflict text = %q, want incoming copy", conflict.Text)
	}
	if n := d.Stats().Received; n != 2 {
		t.Errorf("Received = %d, want 2", n)
	}
}

func TestDaemon_AnswersVerifyRequests(t *testing.T) {
	env := newTestEnv(t)

	conn := newFakeConn()
	d, err := New(func(ctx context.Context) (Conn, error) { return conn, nil }, env.engine, env.verifier, env.db, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	conn.incoming <- &model.VerifyRequest{
		Date:   "2024-06-01",
		Digest: "whatever",
		Time:   time.Now(),
		Sender: model.Sender{Name: "phone", ID: "phone-id"},
	}

	waitFor(t, "verify response", func() bool {
		for _, p := range conn.payloads() {
			if resp, ok := p.(*model.VerifyResponse); ok && resp.Date == "2024-06-01" {
				return true
			}
		}
		return false
	})
}

func TestDaemon_ReconnectsAfterDrop(t *testing.T) {
	env := newTestEnv(t)

	var dials atomic.Int32
	var mu sync.Mutex
	var conns []*fakeConn
	dial := func(ctx context.Context) (Conn, error) {
		n := dials.Add(1)
		if n == 2 {
			return nil, errors.New("relay unavailable")
		}
		c := newFakeConn()
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	}

	d, err := New(dial, env.engine, env.verifier, env.db, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)

	waitFor(t, "first connect", func() bool { return d.Stats().Connects == 1 })

	// Relay goes away
	mu.Lock()
	conns[0].Close()
	mu.Unlock()

	waitFor(t, "reconnect", func() bool { return d.Stats().Connects == 2 })
	if n := dials.Load(); n < 3 {
		t.Errorf("dials = %d, want at least 3 (one failed)", n)
	}
	if !d.Connected() {
		t.Error("Connected() = false after reconnect")
	}
}

func TestDaemon_ReimportsEditedDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := t.TempDir()

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	path := markdown.DayPath(dir, day)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	conn := newFakeConn()
	cfg := testConfig()
	cfg.MarkdownDir = dir
	d, err := New(func(ctx context.Context) (Conn, error) { return conn, nil }, env.engine, env.verifier, env.db, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startDaemon(t, d)
	waitFor(t, "connect", d.Connected)

	content := "# Saturday, June 1, 2024\n## Work\n- wrote the report\n## Home\n- fixed the sink\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	waitFor(t, "reimport", func() bool {
		entries, err := env.db.EntriesForDay(ctx, "2024-06-01")
		return err == nil && len(entries) == 2
	})

	waitFor(t, "broadcast", func() bool {
		for _, p := range conn.payloads() {
			if c, ok := p.(*model.ClearDaysAndInsert); ok && len(c.Days) == 1 && c.Days[0] == "2024-06-01" {
				return true
			}
		}
		return false
	})

	// Rewriting identical content is not imported again
	before := d.Stats().Reimports
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if after := d.Stats().Reimports; after != before {
		t.Errorf("Reimports = %d, want unchanged %d", after, before)
	}
}

func TestSameDay(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a := model.JournalEntry{ID: "1", EntryTime: at, Text: "a", Tag: "Work"}
	b := model.JournalEntry{ID: "2", EntryTime: at, Text: "b", Tag: "Home"}
	deleted := model.JournalEntry{ID: "3", EntryTime: at, Text: "gone", Tag: "Work", Deleted: true}

	tests := []struct {
		name     string
		stored   []model.JournalEntry
		imported []model.JournalEntry
		want     bool
	}{
		{"both empty", nil, nil, true},
		{"same content different ids", []model.JournalEntry{a, b}, []model.JournalEntry{{ID: "x", Text: "b", Tag: "Home"}, {ID: "y", Text: "a", Tag: "Work"}}, true},
		{"deleted ignored", []model.JournalEntry{a, deleted}, []model.JournalEntry{a}, true},
		{"text differs", []model.JournalEntry{a}, []model.JournalEntry{{Text: "a!", Tag: "Work"}}, false},
		{"tag differs", []model.JournalEntry{a}, []model.JournalEntry{{Text: "a", Tag: "Home"}}, false},
		{"extra entry", []model.JournalEntry{a}, []model.JournalEntry{a, b}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameDay(tt.stored, tt.imported); got != tt.want {
				t.Errorf("sameDay() = %v, want %v", got, tt.want)
			}
		})
	}
}
