package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/fileutil"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
)

// Change describes one applied configuration edit.
type Change struct {
	Key               string
	Old               string
	New               string
	ScheduleAffecting bool
}

// Store holds the live configuration and serialises edits. Reads get an
// immutable snapshot; writes go clone, set, persist, swap, notify.
type Store struct {
	mu        sync.RWMutex
	current   *Config
	listeners []func(Change)
}

func NewStore(cfg *Config) *Store {
	return &Store{current: cfg}
}

// Snapshot returns a copy safe to read without locking.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Get returns the current value of a logical key. Secrets come back masked.
func (s *Store) Get(key string) (string, error) {
	entry, ok := LookupEntry(key)
	if !ok {
		return "", core.NewConfigError(key, "unknown key")
	}
	s.mu.RLock()
	value := entry.Get(s.current)
	s.mu.RUnlock()
	if entry.Secret {
		return Redacted(value), nil
	}
	return value, nil
}

// Edit validates and applies one hot key change, persists the whole file
// atomically, then notifies listeners. On any failure the in-memory
// configuration is untouched.
func (s *Store) Edit(ctx context.Context, key, value string) (Change, error) {
	entry, ok := LookupEntry(key)
	if !ok {
		return Change{}, core.NewConfigError(key, "unknown key")
	}
	if !entry.Hot {
		return Change{}, core.NewConfigError(key, "read-only at runtime, edit the config file and restart")
	}

	s.mu.Lock()
	old := entry.Get(s.current)
	next := s.current.Clone()
	if err := entry.Set(next, value); err != nil {
		s.mu.Unlock()
		return Change{}, err
	}
	if err := SaveDefinition(next.Paths.ConfigFile, toDefinition(next)); err != nil {
		s.mu.Unlock()
		return Change{}, core.NewConfigError(key, fmt.Sprintf("persist: %v", err))
	}
	s.current = next
	listeners := append(([]func(Change))(nil), s.listeners...)
	s.mu.Unlock()

	change := Change{
		Key:               key,
		Old:               old,
		New:               entry.Get(next),
		ScheduleAffecting: entry.ScheduleAffecting,
	}
	if entry.Secret {
		change.Old = Redacted(change.Old)
		change.New = Redacted(change.New)
	}
	logger.FromContext(ctx).Info("config key updated",
		tag.Key(key), tag.Value(change.New))
	for _, fn := range listeners {
		fn(change)
	}
	return change, nil
}

// OnChange registers a listener invoked after every applied edit or
// external reload. Listeners run on the caller's goroutine.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// replace swaps in an externally reloaded configuration and emits change
// events for every logical key whose value differs.
func (s *Store) replace(ctx context.Context, next *Config) {
	s.mu.Lock()
	prev := s.current
	s.current = next
	listeners := append(([]func(Change))(nil), s.listeners...)
	s.mu.Unlock()

	log := logger.FromContext(ctx)
	for _, entry := range Catalogue() {
		oldVal, newVal := entry.Get(prev), entry.Get(next)
		if oldVal == newVal {
			continue
		}
		change := Change{
			Key:               entry.Key,
			Old:               oldVal,
			New:               newVal,
			ScheduleAffecting: entry.ScheduleAffecting,
		}
		if entry.Secret {
			change.Old = Redacted(oldVal)
			change.New = Redacted(newVal)
		}
		log.Info("config key reloaded", tag.Key(entry.Key), tag.Value(change.New))
		for _, fn := range listeners {
			fn(change)
		}
	}
}

// SaveDefinition marshals the on-disk shape to YAML and writes it
// atomically. Mode 0600 because the file carries secrets.
func SaveDefinition(path string, def Definition) error {
	if path == "" {
		return core.NewConfigError("config", "no config file path resolved")
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return fileutil.WriteFileAtomic(path, data, 0o600)
}
