package model

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidTag is returned when a tag or template fails validation.
var ErrInvalidTag = errors.New("invalid tag")

// Tag is a user-curated category. Value is unique across tags.
type Tag struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Value string `json:"value"`
}

// NoTag represents "untagged". It is never persisted as user data.
var NoTag = Tag{
	ID:    "internal_no_tag",
	Order: math.MinInt32,
	Value: "internal_no_tag_value",
}

// IsNoTag reports whether value names the untagged sentinel. An empty
// value is treated the same way.
func IsNoTag(value string) bool {
	return value == "" || value == NoTag.Value
}

// NormalizeTag maps every spelling of "untagged" onto the sentinel value.
func NormalizeTag(value string) string {
	if IsNoTag(strings.TrimSpace(value)) {
		return NoTag.Value
	}
	return strings.TrimSpace(value)
}

// NewTag creates a tag with a fresh id.
func NewTag(value string, order int) Tag {
	return Tag{ID: uuid.NewString(), Order: order, Value: strings.TrimSpace(value)}
}

// Validate checks a user tag.
func (t *Tag) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTag)
	}
	if strings.TrimSpace(t.Value) == "" {
		return fmt.Errorf("%w: value is required for %s", ErrInvalidTag, t.ID)
	}
	if IsNoTag(t.Value) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTag, t.Value)
	}
	return nil
}

// JournalEntryTemplate is a canned entry a user can replay.
type JournalEntryTemplate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Tag  string `json:"tag"`
}

// NewTemplate creates a template with a fresh id.
func NewTemplate(text, tag string) JournalEntryTemplate {
	return JournalEntryTemplate{ID: uuid.NewString(), Text: text, Tag: NormalizeTag(tag)}
}

// Validate checks a template.
func (t *JournalEntryTemplate) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: template id is required", ErrInvalidTag)
	}
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: template text is required for %s", ErrInvalidTag, t.ID)
	}
	return nil
}
