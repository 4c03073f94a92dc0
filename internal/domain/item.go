package domain

import (
	"fmt"
	"strings"
)

// ItemKind distinguishes what a bookmark points at.
type ItemKind string

const (
	ItemEvent   ItemKind = "event"
	ItemArticle ItemKind = "article"
)

// Tag names used on the wire for each item kind.
const (
	TagEvent   = "e"
	TagAddress = "a"
)

// BookmarkItem is a single bookmarked reference.
// Whether it is public or private depends on the slice it lives in.
type BookmarkItem struct {
	Kind      ItemKind `json:"kind"`
	ID        string   `json:"id"`
	RelayHint string   `json:"relay_hint,omitempty"`
}

// ItemFromRef builds an item from a bare reference. Addresses of the form
// "kind:pubkey:identifier" are articles, everything else is an event id.
func ItemFromRef(ref, relayHint string) (BookmarkItem, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return BookmarkItem{}, fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	kind := ItemEvent
	if strings.Count(ref, ":") >= 2 {
		kind = ItemArticle
	}
	return BookmarkItem{Kind: kind, ID: ref, RelayHint: relayHint}, nil
}

// Validate checks the item is well formed.
func (it BookmarkItem) Validate() error {
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	switch it.Kind {
	case ItemEvent, ItemArticle:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, it.Kind)
	}
}

// Tag returns the wire tuple for the item: ["e"|"a", id, relayHint?].
func (it BookmarkItem) Tag() []string {
	name := TagEvent
	if it.Kind == ItemArticle {
		name = TagAddress
	}
	if it.RelayHint != "" {
		return []string{name, it.ID, it.RelayHint}
	}
	return []string{name, it.ID}
}

// ItemFromTag parses a wire tuple. ok is false for tags that are not items.
func ItemFromTag(tag []string) (BookmarkItem, bool) {
	if len(tag) < 2 || tag[1] == "" {
		return BookmarkItem{}, false
	}
	var kind ItemKind
	switch tag[0] {
	case TagEvent:
		kind = ItemEvent
	case TagAddress:
		kind = ItemArticle
	default:
		return BookmarkItem{}, false
	}
	it := BookmarkItem{Kind: kind, ID: tag[1]}
	if len(tag) > 2 {
		it.RelayHint = tag[2]
	}
	return it, true
}

// ItemsFromTags collects every item tag, dropping duplicates by id.
func ItemsFromTags(tags [][]string) []BookmarkItem {
	items := make([]BookmarkItem, 0, len(tags))
	for _, tag := range tags {
		if it, ok := ItemFromTag(tag); ok && indexOf(items, it.ID) < 0 {
			items = append(items, it)
		}
	}
	return items
}

// ItemTags converts items to wire tuples, keeping order.
func ItemTags(items []BookmarkItem) [][]string {
	tags := make([][]string, 0, len(items))
	for _, it := range items {
		tags = append(tags, it.Tag())
	}
	return tags
}

func indexOf(items []BookmarkItem, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// without returns a copy of items minus the entry with the given id.
func without(items []BookmarkItem, id string) []BookmarkItem {
	out := make([]BookmarkItem, 0, len(items))
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

func cloneItems(items []BookmarkItem) []BookmarkItem {
	if items == nil {
		return []BookmarkItem{}
	}
	out := make([]BookmarkItem, len(items))
	copy(out, items)
	return out
}
