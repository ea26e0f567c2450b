package identity

import (
	"encoding/base64"
	"fmt"
)

// MaxAvatarBytes caps the raw avatar size. Avatars ride in retained
// profile publishes, so they must stay small enough for the broker and
// for every peer that subscribes.
const MaxAvatarBytes = 32 * 1024

// EncodeAvatar encodes a pre-scaled thumbnail image into the
// base64 payload carried by profile publishes.
func EncodeAvatar(raw []byte) (string, error) {
	if len(raw) > MaxAvatarBytes {
		return "", fmt.Errorf("avatar too large: %d bytes (max %d)", len(raw), MaxAvatarBytes)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeAvatar decodes an avatar payload back into image bytes.
// Returns nil for an empty payload.
func DecodeAvatar(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode avatar: %w", err)
	}
	return raw, nil
}
