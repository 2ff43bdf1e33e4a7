// Package index implements the Index Manager: the single
// point of mutation for the text store, image store, and BM25 index, and
// the owner of the memo_uid -> node-id manifest that makes their contents
// reconstructible and attributable back to a memo.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MemoEntry is one manifest record: the node ids an upsert produced for a
// memo, split by store.
type MemoEntry struct {
	Text  []string `json:"text"`
	Image []string `json:"image"`
}

// Manifest is the persistent mapping memo_uid -> {text: [ids], image: [ids]}.
// It is the authoritative record of what belongs to which memo; the
// vector stores are caches reconstructible from it.
type Manifest struct {
	mu      sync.RWMutex
	path    string
	lock    *ManifestLock
	entries map[string]MemoEntry
}

// NewManifest loads the manifest from path if it exists, or starts empty.
// A read failure is treated as an empty manifest; the caller logs it and
// continues.
func NewManifest(path string) (*Manifest, error) {
	m := &Manifest{path: path, lock: NewManifestLock(path), entries: make(map[string]MemoEntry)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Get returns the entry for memoUID and whether it exists.
func (m *Manifest) Get(memoUID string) (MemoEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[memoUID]
	return e, ok
}

// Set overwrites the entry for memoUID and persists the manifest
// (write-temp-then-rename).
func (m *Manifest) Set(memoUID string, entry MemoEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memoUID] = entry
	return m.persistLocked()
}

// Delete removes the entry for memoUID and persists the manifest. Deleting
// an absent entry is a no-op that still reports not-found.
func (m *Manifest) Delete(memoUID string) (MemoEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memoUID]
	if !ok {
		return MemoEntry{}, false, nil
	}
	delete(m.entries, memoUID)
	if err := m.persistLocked(); err != nil {
		return e, true, err
	}
	return e, true, nil
}

// Len returns the number of memos tracked.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Totals sums node counts across every tracked memo.
func (m *Manifest) Totals() (textCount, imageCount int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		textCount += len(e.Text)
		imageCount += len(e.Image)
	}
	return textCount, imageCount
}

// persistLocked writes the manifest as indented, UTF-8 JSON via
// write-temp-then-rename, holding the cross-process ManifestLock around
// the temp write and rename. Caller must hold m.mu.
func (m *Manifest) persistLocked() error {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := m.lock.Lock(); err != nil {
		return err
	}
	defer func() { _ = m.lock.Unlock() }()

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("rename manifest temp file: %w", err)
	}
	return nil
}
