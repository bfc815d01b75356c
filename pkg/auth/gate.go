// Package auth holds the static sender allow-list.
package auth

import (
	"errors"
	"strings"
)

var ErrEmptyAllowList = errors.New("allow-list is empty")

// Gate answers whether a sender may use the bot. It is built once and never
// mutated, so concurrent reads need no locking.
type Gate struct {
	allowed map[string]struct{}
}

// NewGate builds a gate from explicit identifiers. Entries may themselves be
// comma-separated lists; blanks are ignored.
func NewGate(ids []string) (*Gate, error) {
	allowed := make(map[string]struct{})
	for _, raw := range ids {
		for _, id := range strings.Split(raw, ",") {
			id = normalize(id)
			if id == "" {
				continue
			}
			allowed[id] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil, ErrEmptyAllowList
	}
	return &Gate{allowed: allowed}, nil
}

// IsAuthorized reports whether senderID is on the allow-list.
func (g *Gate) IsAuthorized(senderID string) bool {
	if g == nil {
		return false
	}
	_, ok := g.allowed[normalize(senderID)]
	return ok
}

// Size returns the number of allowed identifiers.
func (g *Gate) Size() int {
	if g == nil {
		return 0
	}
	return len(g.allowed)
}

// normalize trims whitespace and a leading "+" or "whatsapp:" scheme so phone
// based identifiers compare equal regardless of how the transport formats them.
func normalize(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "whatsapp:")
	id = strings.TrimPrefix(id, "+")
	return id
}
