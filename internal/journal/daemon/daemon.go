// Package daemon keeps one device in sync with its exchange.
//
// The daemon:
//  1. Holds a connection to the relay, redialing with backoff when it drops
//  2. Applies incoming payloads through the reconciliation engine in arrival order
//  3. Answers peers' verify requests
//  4. Uploads pending local entries on every connect
//  5. Optionally watches the markdown directory and re-imports edited days
//
// Incoming payloads and markdown re-imports run on a single goroutine, so the
// store is never written by two merges at once.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notejournal/journal/internal/journal/markdown"
	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/reconcile"
	"github.com/notejournal/journal/internal/journal/transport"
	"github.com/notejournal/journal/internal/journal/verify"
)

// Conn is a live connection to an exchange. *transport.Client implements it.
type Conn interface {
	Send(ctx context.Context, p model.Payload) error
	Incoming() <-chan model.Payload
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens a new connection. It is called again after every disconnect.
type Dialer func(ctx context.Context) (Conn, error)

// TransportDialer dials the relay described by config.
func TransportDialer(config transport.Config) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, err := transport.Dial(ctx, config)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// DayReader reads one day of entries from the local store.
type DayReader interface {
	EntriesForDay(ctx context.Context, day string) ([]model.JournalEntry, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// MarkdownDir is watched for edited day files when set
	MarkdownDir string

	// Location for synthetic times of re-imported entries (default: time.Local)
	Location *time.Location

	// DebounceInterval is how long a day file must be quiet before it is
	// re-imported. This batches editor save bursts together
	DebounceInterval time.Duration

	// MinBackoff and MaxBackoff bound the delay between redial attempts
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		MinBackoff:       time.Second,
		MaxBackoff:       30 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats counts daemon activity since Start.
type Stats struct {
	Connects  int64 `json:"connects" yaml:"connects"`
	Received  int64 `json:"received" yaml:"received"`
	Conflicts int64 `json:"conflicts" yaml:"conflicts"`
	Uploaded  int64 `json:"uploaded" yaml:"uploaded"`
	Reimports int64 `json:"reimports" yaml:"reimports"`
}

// Daemon orchestrates the relay connection, payload merging and markdown
// watching for one device.
type Daemon struct {
	dial     Dialer
	engine   *reconcile.Engine
	verifier *verify.Service
	days     DayReader
	config   *Config

	watcher       *DayWatcher
	changeQueue   map[string]time.Time // day -> last event
	changeQueueMu sync.Mutex
	reimports     chan string

	connected atomic.Bool
	connects  atomic.Int64
	received  atomic.Int64
	conflicts atomic.Int64
	uploaded  atomic.Int64
	reimTotal atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. days is read before a markdown re-import to skip
// files whose content the store already holds.
func New(dial Dialer, engine *reconcile.Engine, verifier *verify.Service, days DayReader, config *Config) (*Daemon, error) {
	if dial == nil {
		return nil, fmt.Errorf("dialer cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}
	if days == nil {
		return nil, fmt.Errorf("day reader cannot be nil")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = defaults.DebounceInterval
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaults.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(defaults.MaxBackoff, cfg.MinBackoff)
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &Daemon{
		dial:        dial,
		engine:      engine,
		verifier:    verifier,
		days:        days,
		config:      &cfg,
		changeQueue: make(map[string]time.Time),
		reimports:   make(chan string, 64),
	}, nil
}

// Start runs the daemon until ctx is cancelled. It returns an error only if
// the markdown watcher cannot be set up.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.ctx, d.cancel = context.WithCancel(ctx)

	if d.config.MarkdownDir != "" {
		watcher, err := NewDayWatcher()
		if err != nil {
			d.cancel()
			return err
		}
		if err := watcher.Start(d.config.MarkdownDir); err != nil {
			_ = watcher.Stop()
			d.cancel()
			return fmt.Errorf("failed to watch markdown directory: %w", err)
		}
		d.watcher = watcher
		d.config.Logger.Printf("Watching: %s", d.config.MarkdownDir)

		d.wg.Add(2)
		go d.watchDayEvents()
		go d.processChangeQueue()
	}

	d.wg.Add(1)
	go d.run()

	<-d.ctx.Done()
	d.config.Logger.Println("Shutdown signal received")
	return d.Stop()
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	if d.cancel == nil {
		return nil
	}
	d.stopOnce.Do(func() {
		d.cancel()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Connected reports whether the daemon currently holds a relay connection.
func (d *Daemon) Connected() bool {
	return d.connected.Load()
}

// Stats returns a snapshot of the activity counters.
func (d *Daemon) Stats() Stats {
	return Stats{
		Connects:  d.connects.Load(),
		Received:  d.received.Load(),
		Conflicts: d.conflicts.Load(),
		Uploaded:  d.uploaded.Load(),
		Reimports: d.reimTotal.Load(),
	}
}

// run owns the connection and is the only goroutine that writes merges to
// the store.
func (d *Daemon) run() {
	defer d.wg.Done()

	backoff := d.config.MinBackoff
	for {
		conn, err := d.dial(d.ctx)
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			d.config.Logger.Printf("Dial failed, retrying in %s: %v", backoff, err)
			if !d.wait(backoff) {
				return
			}
			backoff = min(backoff*2, d.config.MaxBackoff)
			continue
		}
		backoff = d.config.MinBackoff

		d.attach(conn)
		d.serve(conn)
		d.detach()

		if err := conn.Close(); err != nil {
			d.config.Logger.Printf("Error closing connection: %v", err)
		}
		if d.ctx.Err() != nil {
			return
		}
		d.config.Logger.Printf("Connection lost, reconnecting in %s: %v", backoff, conn.Err())
		if !d.wait(backoff) {
			return
		}
	}
}

func (d *Daemon) attach(conn Conn) {
	d.engine.SetPublisher(conn)
	d.verifier.SetPublisher(conn)
	d.connected.Store(true)
	d.connects.Add(1)
	d.config.Logger.Println("Connected to relay")

	n, err := d.engine.UploadPending(d.ctx)
	d.uploaded.Add(int64(n))
	if err != nil {
		d.config.Logger.Printf("Upload incomplete after %d entries: %v", n, err)
	} else if n > 0 {
		d.config.Logger.Printf("Uploaded %d pending entries", n)
	}
}

func (d *Daemon) detach() {
	d.connected.Store(false)
	d.engine.SetPublisher(nil)
	d.verifier.SetPublisher(nil)
}

// serve dispatches until the connection ends or the daemon stops.
func (d *Daemon) serve(conn Conn) {
	incoming := conn.Incoming()
	for {
		select {
		case <-d.ctx.Done():
			return

		case p, ok := <-incoming:
			if !ok {
				return
			}
			d.dispatch(p)

		case day := <-d.reimports:
			d.reimport(day)
		}
	}
}

// wait sleeps for delay while still serving markdown re-imports. It returns
// false if the daemon stopped.
func (d *Daemon) wait(delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return false
		case <-timer.C:
			return true
		case day := <-d.reimports:
			d.reimport(day)
		}
	}
}

func (d *Daemon) dispatch(p model.Payload) {
	d.received.Add(1)

	switch p.(type) {
	case *model.VerifyRequest, *model.VerifyResponse:
		if err := d.verifier.Handle(d.ctx, p); err != nil {
			d.config.Logger.Printf("Error handling %s from %s: %v", p.Type(), p.From().Name, err)
		}
		return
	}

	res, err := d.engine.Apply(d.ctx, p)
	if err != nil {
		d.config.Logger.Printf("Error applying %s from %s: %v", p.Type(), p.From().Name, err)
	}
	if res.Conflicts > 0 {
		d.conflicts.Add(int64(res.Conflicts))
		d.config.Logger.Printf("%d new conflict(s) from %s", res.Conflicts, p.From().Name)
	}
}

// watchDayEvents queues changed day files.
func (d *Daemon) watchDayEvents() {
	defer d.wg.Done()

	events := d.watcher.Events()
	errs := d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			// A removed file carries no entries to import. Days are only
			// cleared by an import that has content.
			if event.Op == OpDelete {
				continue
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.queueChange(event.Day)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a day to the change queue with debouncing.
func (d *Daemon) queueChange(day string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[day] = time.Now()
}

// processChangeQueue hands quiet days to the run loop.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			for _, day := range d.pendingDays() {
				select {
				case d.reimports <- day:
				case <-d.ctx.Done():
					return
				}
			}
		}
	}
}

// pendingDays removes and returns the days queued for long enough.
func (d *Daemon) pendingDays() []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	var due []string
	for day, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		due = append(due, day)
		delete(d.changeQueue, day)
	}
	slices.Sort(due)
	return due
}

// reimport replaces one day in the store with the content of its file.
func (d *Daemon) reimport(day string) {
	if err := d.reimportDay(day); err != nil {
		d.config.Logger.Printf("Error re-importing %s: %v", day, err)
	}
}

func (d *Daemon) reimportDay(day string) error {
	t, err := model.ParseDay(day, d.config.Location)
	if err != nil {
		return err
	}

	batch, err := markdown.ImportDay(d.config.MarkdownDir, t, d.config.Location)
	if err != nil {
		return err
	}
	if len(batch.Entries) == 0 {
		return nil
	}

	current, err := d.days.EntriesForDay(d.ctx, day)
	if err != nil {
		return fmt.Errorf("failed to read stored day: %w", err)
	}
	if sameDay(current, batch.Entries) {
		return nil
	}

	d.config.Logger.Printf("Processing change: %s", batch.Path)
	if err := d.engine.ImportDays(d.ctx, []string{day}, batch.Entries); err != nil {
		return err
	}
	d.reimTotal.Add(1)
	return nil
}

// sameDay reports whether stored and imported hold the same tagged texts,
// ignoring ids and times. A file the daemon's own export just wrote matches
// the store and is not imported back.
func sameDay(stored, imported []model.JournalEntry) bool {
	return slices.Equal(contentKeys(stored), contentKeys(imported))
}

func contentKeys(entries []model.JournalEntry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		keys = append(keys, model.NormalizeTag(e.Tag)+"\x1f"+e.Text)
	}
	slices.Sort(keys)
	return keys
}
