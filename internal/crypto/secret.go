package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// SealedPrefix marks an encrypted config value: enc:v1:<kid>:<base64>.
const SealedPrefix = "enc:v1:"

var ErrMalformedSecret = errors.New("malformed sealed secret")

// IsSealed reports whether s was produced by Seal.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, SealedPrefix)
}

// Seal encrypts a credential with the active key. scope (the camera id) is
// bound as associated data so a sealed value cannot be moved to another camera.
func (k *Keyring) Seal(plaintext, scope string) (string, error) {
	if k.activeKID == "" {
		return "", ErrActiveKeyUnset
	}
	key, err := k.credentialKey(k.activeKID)
	if err != nil {
		return "", err
	}
	blob, err := EncryptGCM(key, []byte(plaintext), []byte(scope))
	if err != nil {
		return "", err
	}
	return SealedPrefix + k.activeKID + ":" + base64.RawURLEncoding.EncodeToString(blob), nil
}

// Open decrypts a value produced by Seal for the same scope.
func (k *Keyring) Open(sealed, scope string) (string, error) {
	rest, ok := strings.CutPrefix(sealed, SealedPrefix)
	if !ok {
		return "", ErrMalformedSecret
	}
	kid, encoded, ok := strings.Cut(rest, ":")
	if !ok || kid == "" {
		return "", ErrMalformedSecret
	}
	blob, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSecret, err)
	}

	key, err := k.credentialKey(kid)
	if err != nil {
		return "", fmt.Errorf("key %s: %w", kid, err)
	}
	plaintext, err := DecryptGCM(key, blob, []byte(scope))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
