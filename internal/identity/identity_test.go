package identity

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nifad2005/bjm/internal/bus"
)

func TestGetOrCreateIDStableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.toml")

	s1, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	id := s1.ID()
	if id == "" {
		t.Fatal("empty id generated")
	}

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s2.ID() != id {
		t.Errorf("id changed across reopen: %q != %q", s2.ID(), id)
	}
}

func TestDefaultNameDerivedFromID(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "identity.toml"), nil)
	if err != nil {
		t.Fatal(err)
	}
	name, _ := s.Profile()
	if !strings.HasPrefix(name, "User_") {
		t.Errorf("default name = %q, want User_ prefix", name)
	}
}

func TestSetProfilePersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.toml")
	b := bus.New()
	ch, unsub := b.Subscribe(10, "identity.")
	defer unsub()

	s, err := Open(path, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetProfile("Alice", "QUJD"); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "identity.profile_updated" {
			t.Errorf("event kind = %q, want identity.profile_updated", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for profile_updated event")
	}

	// Reopen and verify persistence.
	s2, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	name, avatar := s2.Profile()
	if name != "Alice" || avatar != "QUJD" {
		t.Errorf("profile = (%q, %q), want (Alice, QUJD)", name, avatar)
	}
}

func TestAvatarRoundTrip(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01, 0x02}
	encoded, err := EncodeAvatar(raw)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeAvatar(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Errorf("round trip mismatch: %v != %v", decoded, raw)
	}
}

func TestAvatarSizeCap(t *testing.T) {
	if _, err := EncodeAvatar(make([]byte, MaxAvatarBytes+1)); err == nil {
		t.Error("expected error for oversized avatar")
	}
}

func TestDecodeAvatarEmpty(t *testing.T) {
	raw, err := DecodeAvatar("")
	if err != nil || raw != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", raw, err)
	}
}
