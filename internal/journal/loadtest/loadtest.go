// Package loadtest drives a relay exchange with many concurrent clients.
//
// Every client sends a stream of entry payloads and reads everything the
// exchange fans out to it. The run checks that each message reached all of
// the other clients exactly once and never came back to its sender, and
// measures send-to-receive latency.
//
// Point it at an exchange no real device uses: every connected device
// receives the generated payloads.
package loadtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/notejournal/journal/internal/journal/model"
	"github.com/notejournal/journal/internal/journal/transport"
)

// Options configures a load test run.
type Options struct {
	// URL of the relay, e.g. "ws://localhost:8080"
	URL string

	// Exchange to load. Should be dedicated to the test
	Exchange string

	// Clients is the number of concurrent connections (at least 2)
	Clients int

	// Messages each client sends
	Messages int

	// Interval between two sends of one client (default: 5ms)
	Interval time.Duration

	// Timeout bounds the whole run (default: 30s)
	Timeout time.Duration

	// Logger for progress (default: stderr logger)
	Logger *log.Logger
}

// LatencyStats captures delivery latency from a run.
type LatencyStats struct {
	Min       time.Duration   `json:"min" yaml:"min"`
	Max       time.Duration   `json:"max" yaml:"max"`
	Mean      time.Duration   `json:"mean" yaml:"mean"`
	P50       time.Duration   `json:"p50" yaml:"p50"` // Median
	P95       time.Duration   `json:"p95" yaml:"p95"`
	P99       time.Duration   `json:"p99" yaml:"p99"`
	Total     int             `json:"total" yaml:"total"`
	Durations []time.Duration `json:"-" yaml:"-"`
}

// Report is the outcome of a run.
type Report struct {
	Clients  int `json:"clients" yaml:"clients"`
	Messages int `json:"messages" yaml:"messages"`

	// Expected is Clients * Messages * (Clients-1) deliveries
	Expected   int `json:"expected" yaml:"expected"`
	Delivered  int `json:"delivered" yaml:"delivered"`
	Missing    int `json:"missing" yaml:"missing"`
	Echoed     int `json:"echoed" yaml:"echoed"`
	Duplicates int `json:"duplicates" yaml:"duplicates"`
	SendErrors int `json:"send_errors" yaml:"send_errors"`

	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
	Latency *LatencyStats `json:"latency" yaml:"latency"`
}

// OK reports whether every message was delivered once to every peer and
// never echoed.
func (r *Report) OK() bool {
	return r.Missing == 0 && r.Echoed == 0 && r.Duplicates == 0 && r.SendErrors == 0
}

type loadClient struct {
	index int
	self  model.Sender
	conn  *websocket.Conn

	// filled by the reader
	received   int
	echoed     int
	duplicates int
	latencies  []time.Duration
}

// Run executes one load test against a running relay.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Clients < 2 {
		return nil, fmt.Errorf("need at least 2 clients, got %d", opts.Clients)
	}
	if opts.Messages < 1 {
		return nil, fmt.Errorf("need at least 1 message per client, got %d", opts.Messages)
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[loadtest] ", log.LstdFlags)
	}

	wsURL, err := transport.ExchangeURL(opts.URL, opts.Exchange)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	clients := make([]*loadClient, 0, opts.Clients)
	defer func() {
		for _, c := range clients {
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
		}
	}()
	for i := 0; i < opts.Clients; i++ {
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect client %d: %w", i, err)
		}
		conn.SetReadLimit(4 << 20)
		clients = append(clients, &loadClient{
			index: i,
			self:  model.Sender{Name: fmt.Sprintf("loadtest-%d", i), ID: uuid.NewString()},
			conn:  conn,
		})
	}

	if err := waitForPeers(ctx, opts.URL, opts.Exchange, opts.Clients); err != nil {
		return nil, err
	}
	logger.Printf("%d clients connected to %s", opts.Clients, opts.Exchange)

	perClient := opts.Messages * (opts.Clients - 1)
	start := time.Now()

	var readers sync.WaitGroup
	for _, c := range clients {
		readers.Add(1)
		go func(c *loadClient) {
			defer readers.Done()
			c.read(ctx, perClient)
		}(c)
	}

	var senders sync.WaitGroup
	var sendErrMu sync.Mutex
	sendErrors := 0
	for _, c := range clients {
		senders.Add(1)
		go func(c *loadClient) {
			defer senders.Done()
			n := c.send(ctx, opts.Messages, opts.Interval, logger)
			sendErrMu.Lock()
			sendErrors += n
			sendErrMu.Unlock()
		}(c)
	}

	senders.Wait()
	readers.Wait()
	elapsed := time.Since(start)

	report := &Report{
		Clients:    opts.Clients,
		Messages:   opts.Messages,
		Expected:   opts.Clients * perClient,
		SendErrors: sendErrors,
		Elapsed:    elapsed,
	}
	var all []time.Duration
	for _, c := range clients {
		report.Delivered += c.received
		report.Echoed += c.echoed
		report.Duplicates += c.duplicates
		all = append(all, c.latencies...)
	}
	report.Missing = max(report.Expected-report.Delivered, 0)
	report.Latency = computeLatencyStats(all)

	return report, nil
}

// send publishes n entry payloads and returns the number of failed writes.
func (c *loadClient) send(ctx context.Context, n int, interval time.Duration, logger *log.Logger) int {
	failed := 0
	for seq := 0; seq < n; seq++ {
		now := time.Now()
		p := &model.Entries{
			Data: []model.JournalEntry{{
				ID:        fmt.Sprintf("%s-%d", c.self.ID, seq),
				EntryTime: now,
				TimeZone:  "UTC",
				Text:      fmt.Sprintf("load %d from %s", seq, c.self.Name),
				Tag:       model.NoTag.Value,
			}},
			Sender: c.self,
		}
		data, err := model.EncodePayload(p)
		if err == nil {
			err = c.conn.Write(ctx, websocket.MessageText, data)
		}
		if err != nil {
			if ctx.Err() != nil {
				return failed + n - seq
			}
			logger.Printf("Client %d send %d failed: %v", c.index, seq, err)
			failed++
		}

		select {
		case <-ctx.Done():
			return failed + n - seq - 1
		case <-time.After(interval):
		}
	}
	return failed
}

// read consumes deliveries until want distinct messages have arrived or the
// context ends.
func (c *loadClient) read(ctx context.Context, want int) {
	seen := make(map[string]bool, want)
	for c.received < want {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		arrived := time.Now()

		p, err := model.DecodePayload(data)
		if err != nil {
			continue
		}
		entries, ok := p.(*model.Entries)
		if !ok {
			continue
		}
		if entries.Sender.ID == c.self.ID {
			c.echoed++
			continue
		}
		for _, e := range entries.Data {
			if seen[e.ID] {
				c.duplicates++
				continue
			}
			seen[e.ID] = true
			c.received++
			c.latencies = append(c.latencies, arrived.Sub(e.EntryTime))
		}
	}
}

// waitForPeers polls the relay's health endpoint until the exchange has at
// least n clients.
func waitForPeers(ctx context.Context, base, exchange string, n int) error {
	healthURL, err := healthURL(base)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		count, err := exchangeCount(ctx, healthURL, exchange)
		if err == nil && count >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("relay health check failed: %w", err)
			}
			return fmt.Errorf("only %d of %d clients registered on %s: %w", count, n, exchange, ctx.Err())
		case <-ticker.C:
		}
	}
}

func healthURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", base, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.JoinPath("health").String(), nil
}

func exchangeCount(ctx context.Context, healthURL, exchange string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("health returned %s", resp.Status)
	}

	var health struct {
		Exchanges map[string]int `json:"exchanges"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return 0, fmt.Errorf("failed to decode health: %w", err)
	}
	count, ok := health.Exchanges[exchange]
	if !ok {
		return 0, errors.New("exchange not served by relay")
	}
	return count, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	// Sort durations for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      sum / time.Duration(len(durations)),
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Total:     len(durations),
		Durations: sorted,
	}
}

// PrintStats formats latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Deliveries:    %d\n", s.Total)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
