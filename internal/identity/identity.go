package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/nifad2005/bjm/internal/bus"
)

// Store owns this device's stable identifier and mutable profile.
// The id is generated once and persisted for the lifetime of the data
// dir; name and avatar may change at any time. The store never touches
// the network itself — profile republish is the engine's job, driven by
// the "identity.profile_updated" bus event.
type Store struct {
	mu   sync.Mutex
	path string
	bus  *bus.Bus
	data fileData
}

type fileData struct {
	ID     string `toml:"id"`
	Name   string `toml:"name"`
	Avatar string `toml:"avatar,omitempty"`
}

// Open loads the identity file at path, generating and persisting a new
// id on first use. Subsequent opens return the same id.
func Open(path string, b *bus.Bus) (*Store, error) {
	s := &Store{path: path, bus: b}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &s.data); err != nil {
			return nil, fmt.Errorf("decode identity file: %w", err)
		}
	}

	if s.data.ID == "" {
		s.data.ID = uuid.New().String()
		if s.data.Name == "" {
			s.data.Name = "User_" + s.data.ID[:4]
		}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("persist new identity: %w", err)
		}
	}

	return s, nil
}

// ID returns the stable identity id.
func (s *Store) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ID
}

// Profile returns the current display name and avatar payload
// (base64-encoded image, empty if absent).
func (s *Store) Profile() (name, avatar string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Name, s.data.Avatar
}

// SetProfile updates the display name and avatar and persists them.
// An empty avatar clears the stored one.
func (s *Store) SetProfile(name, avatar string) error {
	s.mu.Lock()
	s.data.Name = name
	s.data.Avatar = avatar
	err := s.save()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: "identity.profile_updated", Timestamp: time.Now()})
	}
	return nil
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(&s.data)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
