package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/notejournal/journal/internal/journal/model"
)

const (
	// StaleAfter is how old a request or response may be before it is ignored.
	StaleAfter = 3 * time.Second

	// DefaultWait bounds how long Verify waits for a peer to answer.
	DefaultWait = 3 * time.Second
)

// ErrOffline is returned by Verify without a publisher.
var ErrOffline = errors.New("verify: not connected to a relay")

// DayReader reads one day of entries from the local store.
type DayReader interface {
	EntriesForDay(ctx context.Context, day string) ([]model.JournalEntry, error)
}

// Publisher sends a payload to the exchange.
type Publisher interface {
	Send(ctx context.Context, p model.Payload) error
}

// Report is the outcome of asking peers to verify one day.
type Report struct {
	Date   string `json:"date" yaml:"date"`
	Digest string `json:"digest" yaml:"digest"`

	// MatchedPeer names the first peer whose digest agreed, empty if none did.
	MatchedPeer string `json:"matched_peer,omitempty" yaml:"matched_peer,omitempty"`

	// Mismatched names peers that answered with a different digest.
	Mismatched []string `json:"mismatched,omitempty" yaml:"mismatched,omitempty"`
}

// Matched reports whether some peer holds the same day.
func (r *Report) Matched() bool {
	return r.MatchedPeer != ""
}

// Service answers verify requests from peers and issues its own.
type Service struct {
	store  DayReader
	logger *log.Logger
	now    func() time.Time
	wait   time.Duration

	mu        sync.Mutex
	publisher Publisher
	waiters   map[string][]chan *model.VerifyResponse
}

// NewService creates a verify service. If logger is nil, a default logger
// writing to stderr is used.
func NewService(st DayReader, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[verify] ", log.LstdFlags)
	}
	return &Service{
		store:   st,
		logger:  logger,
		now:     time.Now,
		wait:    DefaultWait,
		waiters: make(map[string][]chan *model.VerifyResponse),
	}
}

// SetPublisher attaches (or with nil, detaches) the outbound connection.
func (s *Service) SetPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

func (s *Service) currentPublisher() Publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publisher
}

// Snapshot returns the local entries of day.
func (s *Service) Snapshot(ctx context.Context, day string) (Verification, error) {
	entries, err := s.store.EntriesForDay(ctx, day)
	if err != nil {
		return Verification{}, fmt.Errorf("failed to read %s: %w", day, err)
	}
	return Verification{Entries: entries}, nil
}

// Digest returns the local digest of day.
func (s *Service) Digest(ctx context.Context, day string) (string, error) {
	snap, err := s.Snapshot(ctx, day)
	if err != nil {
		return "", err
	}
	return DayDigest(snap.Entries), nil
}

func (s *Service) stale(t time.Time) bool {
	return s.now().Sub(t) > StaleAfter
}

// Handle routes a verify payload. Other payload types are ignored.
func (s *Service) Handle(ctx context.Context, p model.Payload) error {
	switch p := p.(type) {
	case *model.VerifyRequest:
		return s.HandleRequest(ctx, p)
	case *model.VerifyResponse:
		s.HandleResponse(p)
	}
	return nil
}

// HandleRequest answers a peer's request with this device's digest for the
// same day. Stale requests are dropped.
func (s *Service) HandleRequest(ctx context.Context, req *model.VerifyRequest) error {
	if s.stale(req.Time) {
		s.logger.Printf("Ignoring stale verify request from %s for %s", req.Sender.Name, req.Date)
		return nil
	}
	pub := s.currentPublisher()
	if pub == nil {
		return ErrOffline
	}

	digest, err := s.Digest(ctx, req.Date)
	if err != nil {
		return err
	}
	resp := &model.VerifyResponse{Date: req.Date, Digest: digest, Time: s.now()}
	if err := pub.Send(ctx, resp); err != nil {
		return fmt.Errorf("failed to answer verify request for %s: %w", req.Date, err)
	}
	return nil
}

// HandleResponse hands a response to any Verify call waiting on its day.
func (s *Service) HandleResponse(resp *model.VerifyResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.waiters[resp.Date] {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (s *Service) register(day string) chan *model.VerifyResponse {
	ch := make(chan *model.VerifyResponse, 8)
	s.mu.Lock()
	s.waiters[day] = append(s.waiters[day], ch)
	s.mu.Unlock()
	return ch
}

func (s *Service) unregister(day string, ch chan *model.VerifyResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[day]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.waiters, day)
	} else {
		s.waiters[day] = list
	}
}

// Verify asks the other devices for their digest of day and waits for the
// first one that agrees. Responses arrive through HandleResponse, so the
// caller must be feeding incoming payloads to Handle concurrently.
//
// A report with no MatchedPeer is not an error: no peer answered in time, or
// every answer disagreed.
func (s *Service) Verify(ctx context.Context, day string) (*Report, error) {
	pub := s.currentPublisher()
	if pub == nil {
		return nil, ErrOffline
	}

	digest, err := s.Digest(ctx, day)
	if err != nil {
		return nil, err
	}
	report := &Report{Date: day, Digest: digest}

	ch := s.register(day)
	defer s.unregister(day, ch)

	if err := pub.Send(ctx, &model.VerifyRequest{Date: day, Digest: digest, Time: s.now()}); err != nil {
		return nil, fmt.Errorf("failed to send verify request for %s: %w", day, err)
	}

	timer := time.NewTimer(s.wait)
	defer timer.Stop()

	for {
		select {
		case resp := <-ch:
			if s.stale(resp.Time) {
				continue
			}
			if resp.Digest == digest {
				report.MatchedPeer = resp.Sender.Name
				return report, nil
			}
			report.Mismatched = append(report.Mismatched, resp.Sender.Name)
		case <-timer.C:
			return report, nil
		case <-ctx.Done():
			return report, ctx.Err()
		}
	}
}
