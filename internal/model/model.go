// Package model defines domain entities shared by the trunk, metadata engine and store.
package model

import (
	"fmt"
	"slices"
	"strings"
)

// Kind is the closed set of item categories.
type Kind int

const (
	KindLogin Kind = iota + 1
	KindBankCard
	KindSecureNote
	KindIdentification
	KindPassword
	KindSoftwareLicense
	KindBankAccount
)

// Kinds lists every category in display order.
var Kinds = []Kind{
	KindLogin,
	KindBankCard,
	KindSecureNote,
	KindIdentification,
	KindPassword,
	KindSoftwareLicense,
	KindBankAccount,
}

var kindNames = map[Kind]string{
	KindLogin:           "login",
	KindBankCard:        "bank_card",
	KindSecureNote:      "secure_note",
	KindIdentification:  "identification",
	KindPassword:        "password",
	KindSoftwareLicense: "software_license",
	KindBankAccount:     "bank_account",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the known categories.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a category name back to its Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown item kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid item kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Item is a single secret record. Timestamps are Unix milliseconds.
type Item struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Payload     []byte   `json:"payload,omitempty"` // opaque to the engine
	Favorite    bool     `json:"favorite,omitempty"`
	Archived    bool     `json:"archived,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
	Pending     bool     `json:"pending,omitempty"` // merged stub waiting for its payload
}

// ItemMetadata is the lightweight envelope persisted in metadata blocks.
type ItemMetadata struct {
	ID        string   `json:"id"`
	Kind      Kind     `json:"kind"`
	Tags      []string `json:"tags,omitempty"`
	Favorite  bool     `json:"favorite,omitempty"`
	Archived  bool     `json:"archived,omitempty"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// Metadata extracts the metadata envelope of the item.
func (it *Item) Metadata() ItemMetadata {
	return ItemMetadata{
		ID:        it.ID,
		Kind:      it.Kind,
		Tags:      NormalizeTags(it.Tags),
		Favorite:  it.Favorite,
		Archived:  it.Archived,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

// ApplyMetadata overwrites the item's metadata fields with m. Payload is left alone.
func (it *Item) ApplyMetadata(m ItemMetadata) {
	it.Tags = NormalizeTags(m.Tags)
	it.Favorite = m.Favorite
	it.Archived = m.Archived
	it.UpdatedAt = m.UpdatedAt
	if it.CreatedAt == 0 {
		it.CreatedAt = m.CreatedAt
	}
}

// HasTag reports whether the item carries tag.
func (it *Item) HasTag(tag string) bool {
	return slices.Contains(it.Tags, tag)
}

// Clone returns a deep copy so callers never alias trunk state.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	c := *it
	c.Payload = slices.Clone(it.Payload)
	c.Tags = slices.Clone(it.Tags)
	c.Attachments = slices.Clone(it.Attachments)
	return &c
}

// NormalizeTags trims, drops empties and duplicates, and sorts.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
