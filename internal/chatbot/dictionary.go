package chatbot

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// defaultEntries seed a dictionary file that does not exist yet.
var defaultEntries = map[string]string{
	"Are you on a career break?":                        "No",
	"Are you comfortable working in rotational shifts?": "Yes",
	"Are you comfortable working on 24x7 shifts?":       "Yes",
	"Can you join immediately?":                         "Yes",
	"Are you willing to relocate?":                      "Yes",
}

// Dictionary is a persisted question to answer map. Lookups are exact first, then
// case-insensitive, then by substring in either direction.
type Dictionary struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
}

// NewDictionary returns an in-memory dictionary holding entries.
func NewDictionary(entries map[string]string) *Dictionary {
	d := &Dictionary{entries: make(map[string]string, len(entries))}
	for q, a := range entries {
		d.entries[q] = a
	}
	return d
}

// LoadDictionary reads the dictionary at path. When the file does not exist it is created
// with a small set of default entries.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		d := NewDictionary(defaultEntries)
		d.path = path
		if err := d.save(); err != nil {
			return nil, err
		}
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read QA dictionary %s: %w", path, err)
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse QA dictionary %s: %w", path, err)
	}
	d := NewDictionary(entries)
	d.path = path
	return d, nil
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Lookup returns the best stored answer for question.
func (d *Dictionary) Lookup(question string) (string, bool) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if a, ok := d.entries[question]; ok {
		return a, true
	}
	lower := strings.ToLower(question)
	keys := d.sortedKeys()
	for _, q := range keys {
		if strings.ToLower(q) == lower {
			return d.entries[q], true
		}
	}
	for _, q := range keys {
		ql := strings.ToLower(strings.TrimSpace(q))
		if ql == "" {
			continue
		}
		if strings.Contains(lower, ql) || strings.Contains(ql, lower) {
			return d.entries[q], true
		}
	}
	return "", false
}

// sortedKeys orders keys longest first so the most specific stored question wins.
func (d *Dictionary) sortedKeys() []string {
	keys := make([]string, 0, len(d.entries))
	for q := range d.entries {
		keys = append(keys, q)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return keys
}

// Learn stores an answer and writes the file when the dictionary is file-backed.
func (d *Dictionary) Learn(question, answer string) error {
	question = strings.TrimSpace(question)
	if question == "" || answer == "" {
		return nil
	}
	d.mu.Lock()
	if d.entries[question] == answer {
		d.mu.Unlock()
		return nil
	}
	d.entries[question] = answer
	d.mu.Unlock()
	return d.save()
}

func (d *Dictionary) save() error {
	if d.path == "" {
		return nil
	}
	d.mu.RLock()
	data, err := json.MarshalIndent(d.entries, "", "  ")
	d.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal QA dictionary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("failed to create QA dictionary directory: %w", err)
	}
	if err := os.WriteFile(d.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write QA dictionary: %w", err)
	}
	return nil
}
