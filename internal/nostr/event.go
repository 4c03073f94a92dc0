// Package nostr holds the relay record shapes and the helpers needed to build,
// identify and sign them.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Record kinds used by the bookmark engine.
const (
	KindDeletion     = 5
	KindBookmarkList = 10003
	KindBookmarkSet  = 30003
)

// Event is a signed relay record.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Draft is an unsigned record ready to be signed and published.
type Draft struct {
	Kind    int
	Content string
	Tags    [][]string
}

// Filter is a relay query.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	D       []string `json:"#d,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Time returns CreatedAt as a time.Time.
func (e *Event) Time() time.Time {
	return time.Unix(e.CreatedAt, 0).UTC()
}

// TagValue returns the first value of the first tag named name.
func (e *Event) TagValue(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// Serialize returns the canonical form hashed into the event id:
// [0, pubkey, created_at, kind, tags, content] without HTML escaping.
func (e *Event) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}); err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash computes the sha256 of the canonical serialization.
func (e *Event) Hash() ([]byte, error) {
	raw, err := e.Serialize()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// ComputeID fills ID from the canonical serialization.
func (e *Event) ComputeID() error {
	h, err := e.Hash()
	if err != nil {
		return err
	}
	e.ID = hex.EncodeToString(h)
	return nil
}

// Newest picks the event with the highest created_at. Ties go to the lowest
// id, which is how relays order replaceable records.
func Newest(events []*Event) *Event {
	var best *Event
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if best == nil || ev.CreatedAt > best.CreatedAt ||
			(ev.CreatedAt == best.CreatedAt && ev.ID < best.ID) {
			best = ev
		}
	}
	return best
}

// Address is the "kind:pubkey:identifier" reference of an addressable record.
func Address(kind int, pubkey, identifier string) string {
	return fmt.Sprintf("%d:%s:%s", kind, pubkey, identifier)
}
