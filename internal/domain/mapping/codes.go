package mapping

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	CodeSetICD10      = "icd10"
	CodeSetMedication = "medication"
)

type CodeEntry struct {
	Code             string `json:"code"`
	Description      string `json:"description"`
	ShortDescription string `json:"short_description,omitempty"`
}

type indexedEntry struct {
	code  string
	desc  string
	short string
}

// CodeSets holds the reference code lists used by lookup and ai_match.
// Lists keep their load order; the first matching entry wins.
type CodeSets struct {
	mu   sync.RWMutex
	sets map[string][]indexedEntry
}

func NewCodeSets() *CodeSets {
	return &CodeSets{sets: make(map[string][]indexedEntry)}
}

// Replace swaps in a new list for name.
func (c *CodeSets) Replace(name string, entries []CodeEntry) {
	idx := make([]indexedEntry, len(entries))
	for i, e := range entries {
		idx[i] = indexedEntry{
			code:  e.Code,
			desc:  strings.ToLower(e.Description),
			short: strings.ToLower(e.ShortDescription),
		}
	}
	c.mu.Lock()
	c.sets[name] = idx
	c.mu.Unlock()
}

// Size returns the number of entries loaded for name.
func (c *CodeSets) Size(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sets[name])
}

// Lookup matches term against a code set in three passes: the whole term
// inside a description, then inside a short description, then each word of
// more than three letters inside a description, in the order the words
// appear.
func (c *CodeSets) Lookup(name, term string) (string, bool) {
	if c == nil {
		return "", false
	}
	t := strings.ToLower(strings.TrimSpace(term))
	if t == "" {
		return "", false
	}

	c.mu.RLock()
	entries := c.sets[name]
	c.mu.RUnlock()

	for _, e := range entries {
		if strings.Contains(e.desc, t) {
			return e.code, true
		}
	}
	for _, e := range entries {
		if e.short != "" && strings.Contains(e.short, t) {
			return e.code, true
		}
	}

	words := strings.Fields(t)
	if len(words) < 2 {
		return "", false
	}
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		for _, e := range entries {
			if strings.Contains(e.desc, w) {
				return e.code, true
			}
		}
	}
	return "", false
}
