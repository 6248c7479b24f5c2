package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PayloadType is the discriminator carried in every sync envelope.
type PayloadType string

const (
	// PayloadEntries carries journal entries to merge.
	PayloadEntries PayloadType = "entries"

	// PayloadTags carries the sender's complete tag list.
	PayloadTags PayloadType = "tags"

	// PayloadTemplates carries the sender's complete template list.
	PayloadTemplates PayloadType = "templates"

	// PayloadClearDaysAndInsert replaces whole days, used to propagate an import.
	PayloadClearDaysAndInsert PayloadType = "clear_days_and_insert_entries"

	// PayloadVerifyRequest asks peers for their digest of one day.
	PayloadVerifyRequest PayloadType = "verify_entries_request"

	// PayloadVerifyResponse answers a verify request.
	PayloadVerifyResponse PayloadType = "verify_entries_response"
)

var (
	// ErrUnknownPayload is returned when the discriminator is not recognized.
	ErrUnknownPayload = errors.New("unknown payload type")

	// ErrInvalidPayload is returned when an envelope cannot be decoded or is
	// missing required fields.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Payload is one sync message. The concrete type is exactly one of
// *Entries, *Tags, *Templates, *ClearDaysAndInsert, *VerifyRequest or
// *VerifyResponse.
type Payload interface {
	Type() PayloadType
	From() Sender
	WithSender(Sender) Payload
}

// Entries carries journal entries to merge into the receiver's store.
type Entries struct {
	Data   []JournalEntry `json:"data"`
	Sender Sender         `json:"sender"`
}

// Tags carries the complete tag list.
type Tags struct {
	Data   []Tag  `json:"data"`
	Sender Sender `json:"sender"`
}

// Templates carries the complete template list.
type Templates struct {
	Data   []JournalEntryTemplate `json:"data"`
	Sender Sender                 `json:"sender"`
}

// ClearDaysAndInsert deletes every entry on Days and inserts Entries.
type ClearDaysAndInsert struct {
	Days    []string       `json:"days"`
	Entries []JournalEntry `json:"entries"`
	Sender  Sender         `json:"sender"`
}

// VerifyRequest asks peers for their digest of Date.
type VerifyRequest struct {
	Date   string    `json:"date"`
	Digest string    `json:"digest"`
	Time   time.Time `json:"time"`
	Sender Sender    `json:"sender"`
}

// VerifyResponse reports a peer's digest of Date.
type VerifyResponse struct {
	Date   string    `json:"date"`
	Digest string    `json:"digest"`
	Time   time.Time `json:"time"`
	Sender Sender    `json:"sender"`
}

func (p *Entries) Type() PayloadType            { return PayloadEntries }
func (p *Tags) Type() PayloadType               { return PayloadTags }
func (p *Templates) Type() PayloadType          { return PayloadTemplates }
func (p *ClearDaysAndInsert) Type() PayloadType { return PayloadClearDaysAndInsert }
func (p *VerifyRequest) Type() PayloadType      { return PayloadVerifyRequest }
func (p *VerifyResponse) Type() PayloadType     { return PayloadVerifyResponse }

func (p *Entries) From() Sender            { return p.Sender }
func (p *Tags) From() Sender               { return p.Sender }
func (p *Templates) From() Sender          { return p.Sender }
func (p *ClearDaysAndInsert) From() Sender { return p.Sender }
func (p *VerifyRequest) From() Sender      { return p.Sender }
func (p *VerifyResponse) From() Sender     { return p.Sender }

func (p *Entries) WithSender(s Sender) Payload {
	c := *p
	c.Sender = s
	return &c
}

func (p *Tags) WithSender(s Sender) Payload {
	c := *p
	c.Sender = s
	return &c
}

func (p *Templates) WithSender(s Sender) Payload {
	c := *p
	c.Sender = s
	return &c
}

func (p *ClearDaysAndInsert) WithSender(s Sender) Payload {
	c := *p
	c.Sender = s
	return &c
}

func (p *VerifyRequest) WithSender(s Sender) Payload {
	c := *p
	c.Sender = s
	return &c
}

func (p *VerifyResponse) WithSender(s Sender) Payload {
	c := *p
	c.Sender = s
	return &c
}

// EncodePayload serializes p as a JSON envelope with a "type" discriminator
// alongside the variant's own fields.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Type(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to build %s envelope: %w", p.Type(), err)
	}
	typ, _ := json.Marshal(p.Type())
	fields["type"] = typ

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", p.Type(), err)
	}
	return data, nil
}

// DecodePayload parses an envelope. It either returns a complete payload or
// an error; a caller never sees a partially decoded message. A message
// carrying any invalid entry or day is rejected as a whole.
func DecodePayload(data []byte) (Payload, error) {
	var head struct {
		Type PayloadType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var p Payload
	switch head.Type {
	case PayloadEntries:
		p = &Entries{}
	case PayloadTags:
		p = &Tags{}
	case PayloadTemplates:
		p = &Templates{}
	case PayloadClearDaysAndInsert:
		p = &ClearDaysAndInsert{}
	case PayloadVerifyRequest:
		p = &VerifyRequest{}
	case PayloadVerifyResponse:
		p = &VerifyResponse{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, head.Type)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, head.Type, err)
	}
	if p.From().ID == "" {
		return nil, fmt.Errorf("%w: %s: sender is required", ErrInvalidPayload, head.Type)
	}
	if err := validateContents(p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, head.Type, err)
	}
	return p, nil
}

func validateContents(p Payload) error {
	var entries []JournalEntry
	switch p := p.(type) {
	case *Entries:
		entries = p.Data
	case *ClearDaysAndInsert:
		for _, day := range p.Days {
			if _, err := ParseDay(day, time.UTC); err != nil {
				return err
			}
		}
		entries = p.Entries
	}
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
