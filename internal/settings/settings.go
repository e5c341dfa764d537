// Package settings holds the runtime-adjustable model parameters. Unlike
// the boot configuration in internal/config, these change while the
// daemon runs: the UI's settings panel writes here and the agent loop
// reads per turn.
//
// Mutation goes through Update, which applies the change and then
// notifies subscribers synchronously. There is no change interception or
// implicit propagation; a write that skips Update is a bug.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/skald-ai/skald/internal/llm"
)

// Settings are the model parameters the user can change at runtime.
type Settings struct {
	Model       string  `yaml:"model" json:"model"`
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// Options projects the settings into completion options for the model
// gateway. Credentials ride along so that a key or endpoint saved at
// runtime applies to the very next completion.
func (s Settings) Options() llm.Options {
	return llm.Options{
		Model:       s.Model,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
		APIKey:      s.APIKey,
		BaseURL:     s.BaseURL,
	}
}

// Subscriber is notified after every committed update, synchronously
// and under no lock. Implementations must not call back into the store.
type Subscriber func(Settings)

// Store guards a Settings value and publishes changes to subscribers.
type Store struct {
	mu      sync.RWMutex
	current Settings
	subs    []Subscriber
	path    string // empty disables persistence
}

// NewStore creates a settings store with the given initial values.
// When path is non-empty, every update is also written there as YAML.
func NewStore(initial Settings, path string) *Store {
	return &Store{current: initial, path: path}
}

// Load reads persisted settings from path, falling back to the given
// defaults when the file does not exist yet.
func Load(path string, defaults Settings) (*Store, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewStore(defaults, path), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	s := defaults
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return NewStore(s, path), nil
}

// Get returns the current settings value.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Update applies fn to a copy of the current settings, commits the
// result, persists it, and notifies every subscriber with the new value.
// Subscribers run in registration order on the caller's goroutine.
func (st *Store) Update(fn func(*Settings)) (Settings, error) {
	st.mu.Lock()
	next := st.current
	fn(&next)
	st.current = next
	subs := make([]Subscriber, len(st.subs))
	copy(subs, st.subs)
	path := st.path
	st.mu.Unlock()

	if path != "" {
		if err := save(path, next); err != nil {
			return next, err
		}
	}
	for _, sub := range subs {
		sub(next)
	}
	return next, nil
}

// Subscribe registers fn for future updates. There is no unsubscribe;
// subscriptions live as long as the store.
func (st *Store) Subscribe(fn Subscriber) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subs = append(st.subs, fn)
}

func save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
