package config

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// Store holds the active configuration. Readers get an immutable snapshot;
// writers replace it atomically after validation.
type Store struct {
	current atomic.Pointer[Config]
	path    string

	mu          sync.Mutex
	subscribers []chan *Config
}

// NewStore creates a store seeded with cfg. An invalid cfg is rejected.
func NewStore(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(cfg.Clone())
	return s, nil
}

// NewFileStore loads path and remembers it for ReloadFile
func NewFileStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// Current returns the active configuration. Callers must not modify it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Swap validates cfg and makes it the active configuration
func (s *Store) Swap(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	snapshot := cfg.Clone()
	s.current.Store(snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		// Keep only the newest pending config per subscriber
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
	return nil
}

// ReloadFile re-reads the file the store was created from
func (s *Store) ReloadFile() error {
	if s.path == "" {
		return fmt.Errorf("store has no backing file")
	}
	cfg, err := Load(s.path)
	if err != nil {
		return fmt.Errorf("failed to reload %s: %w", s.path, err)
	}
	if err := s.Swap(cfg); err != nil {
		return err
	}
	log.Printf("[Config] Reloaded configuration from %s (profile: %s)", s.path, cfg.Profile)
	return nil
}

// Subscribe returns a channel receiving every newly swapped configuration
func (s *Store) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch
func (s *Store) Unsubscribe(ch <-chan *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}
