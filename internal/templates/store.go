// Package templates is the prompt-template library: named, reusable
// prompt texts persisted as a JSON file next to the config.
package templates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

type Template struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// Store keeps templates in memory and on disk, always in sync.
type Store struct {
	mu    sync.RWMutex
	path  string
	items map[string]Template
}

func NewStore(path string) *Store {
	s := &Store{path: path, items: make(map[string]Template)}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		// Missing file means an empty library.
		return
	}
	var list []Template
	if err := json.Unmarshal(data, &list); err != nil {
		// Corrupt file: start empty rather than failing startup.
		return
	}
	for _, t := range list {
		s.items[t.Name] = t
	}
}

func (s *Store) save() error {
	list := s.sorted()
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal templates: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create templates dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write templates file: %w", err)
	}
	return nil
}

func (s *Store) sorted() []Template {
	list := make([]Template, 0, len(s.items))
	for _, t := range s.items {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// List returns all templates ordered by name.
func (s *Store) List() []Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted()
}

func (s *Store) Get(name string) (Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[name]
	return t, ok
}

// Put adds or replaces a template.
func (s *Store) Put(t Template) error {
	if t.Name == "" {
		return fmt.Errorf("template name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[t.Name] = t
	return s.save()
}

func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return fmt.Errorf("template %q not found", name)
	}
	delete(s.items, name)
	return s.save()
}
