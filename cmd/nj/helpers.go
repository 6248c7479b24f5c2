package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/reconcile"
	"github.com/notejournal/journal/internal/journal/store"
	"github.com/notejournal/journal/internal/journal/transport"
)

const dialTimeout = 5 * time.Second

var offline bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "do not contact the relay; changes stay queued for upload")
}

func dirOf(path string) string {
	return filepath.Dir(path)
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts yyyy-mm-dd or a natural expression like "yesterday" or
// "last friday" and returns local midnight of that day.
func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "today") {
		return midnight(now), nil
	}
	if t, err := model.ParseDay(s, now.Location()); err == nil {
		return t, nil
	}

	r, err := dateParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return midnight(r.Time), nil
}

// parseTime is parseDate that keeps the time of day, for entry timestamps.
func parseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "now") {
		return now, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	r, err := dateParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return r.Time, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// dateRange resolves --from/--to style flags. An empty to means from.
func dateRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	start, err := parseDate(from, now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := start
	if to != "" {
		if end, err = parseDate(to, now); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("range ends (%s) before it starts (%s)", model.DayOf(end), model.DayOf(start))
	}
	return start, end, nil
}

// dialRelay connects this device to its exchange.
func dialRelay(ctx context.Context) (*transport.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return transport.Dial(ctx, transport.Config{
		URL:      cfg.Relay.URL,
		Exchange: cfg.Relay.Exchange,
		Self:     cfg.Sender(),
		Logger:   newLogger("transport"),
	})
}

// session is a short-lived store and engine, attached to the relay when it
// is reachable.
type session struct {
	db     *store.DB
	engine *reconcile.Engine
	client *transport.Client
	done   chan struct{}
}

func openSession(ctx context.Context) (*session, error) {
	db, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{db: db, engine: reconcile.New(db, newLogger("reconcile"))}

	if offline {
		return s, nil
	}
	client, err := dialRelay(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: relay unavailable, working offline: %v\n", err)
		return s, nil
	}
	s.client = client
	s.engine.SetPublisher(client)

	// Peers' changes that arrive meanwhile are merged rather than dropped.
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for p := range client.Incoming() {
			if _, err := s.engine.Apply(ctx, p); err != nil {
				newLogger("reconcile").Printf("Error applying %s: %v", p.Type(), err)
			}
		}
	}()
	return s, nil
}

func (s *session) online() bool {
	return s.client != nil
}

// flush uploads whatever is pending when connected.
func (s *session) flush(ctx context.Context) {
	if !s.online() {
		return
	}
	n, err := s.engine.UploadPending(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: uploaded %d entries before failing: %v\n", n, err)
	}
}

func (s *session) Close() {
	if s.client != nil {
		s.engine.SetPublisher(nil)
		_ = s.client.Close()
		<-s.done
	}
	_ = s.db.Close()
}
