package config

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Store holds the current profile file and swaps it on reload. Readers
// never observe a partially loaded file.
type Store struct {
	mu      sync.RWMutex
	path    string
	file    *File
	modTime time.Time

	// OnReload, when set, is called after each successful reload.
	OnReload func(*File)
}

// NewStore loads path once. The initial load must succeed.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore wraps an already parsed file; Reload is a no-op error.
func NewStaticStore(f *File) *Store {
	return &Store{file: f}
}

func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the file. On failure the previous file stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("config store has no backing file")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("failed to stat config %s: %w", s.path, err)
	}
	f, err := Load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.file = f
	s.modTime = info.ModTime()
	cb := s.OnReload
	s.mu.Unlock()

	if cb != nil {
		cb(f)
	}
	return nil
}

// ReloadIfChanged reloads only when the file's mtime moved.
func (s *Store) ReloadIfChanged() (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return false, fmt.Errorf("failed to stat config %s: %w", s.path, err)
	}

	s.mu.RLock()
	unchanged := info.ModTime().Equal(s.modTime)
	s.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	if err := s.Reload(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) File() *File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file
}

// Profile resolves name against the current file.
func (s *Store) Profile(name string) (Profile, error) {
	return s.File().Profile(name)
}

func (s *Store) logReloadError(source string, err error) {
	log.Printf("[WARN] Config %s: reload of %s failed, keeping previous profiles: %v", source, s.path, err)
}
