package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrKeyNotFound    = errors.New("key not found in keyring")
	ErrActiveKeyUnset = errors.New("active master key identifier not set or found")
	ErrNoMasterKeys   = errors.New("ALARMD_MASTER_KEYS environment variable is empty")
)

// credentialInfo separates the derived credential key from any other use of
// the same master key.
const credentialInfo = "ts-alarms camera credential v1"

type MasterKey struct {
	KID      string `json:"kid"`
	Material string `json:"material"` // Base64
}

// Keyring holds master keys by id. Sealing always uses the active key;
// opening uses whichever key the sealed value names, so keys can rotate.
type Keyring struct {
	keys      map[string][]byte
	activeKID string
}

func NewKeyring() *Keyring {
	return &Keyring{
		keys: make(map[string][]byte),
	}
}

// Add registers a 32-byte master key.
func (k *Keyring) Add(kid string, material []byte) error {
	if kid == "" {
		return errors.New("found master key with empty KID")
	}
	if _, exists := k.keys[kid]; exists {
		return fmt.Errorf("duplicate master key KID: %s", kid)
	}
	if len(material) != 32 {
		return fmt.Errorf("invalid key length for %s: expected 32 bytes (AES-256), got %d", kid, len(material))
	}
	k.keys[kid] = material
	return nil
}

// SetActive selects the key used by Seal.
func (k *Keyring) SetActive(kid string) error {
	if _, ok := k.keys[kid]; !ok {
		return fmt.Errorf("active key %s: %w", kid, ErrKeyNotFound)
	}
	k.activeKID = kid
	return nil
}

// LoadFromEnv loads ALARMD_MASTER_KEYS (JSON list of {kid, material}) and
// ALARMD_ACTIVE_KID. ErrNoMasterKeys means no keyring is configured.
func (k *Keyring) LoadFromEnv() error {
	keysJSON := os.Getenv("ALARMD_MASTER_KEYS")
	activeKID := os.Getenv("ALARMD_ACTIVE_KID")

	if keysJSON == "" {
		return ErrNoMasterKeys
	}

	var rawKeys []MasterKey
	if err := json.Unmarshal([]byte(keysJSON), &rawKeys); err != nil {
		return fmt.Errorf("failed to parse ALARMD_MASTER_KEYS: %w", err)
	}

	k.keys = make(map[string][]byte)
	for _, rk := range rawKeys {
		decoded, err := base64.StdEncoding.DecodeString(rk.Material)
		if err != nil {
			return fmt.Errorf("invalid base64 for key %s: %w", rk.KID, err)
		}
		if err := k.Add(rk.KID, decoded); err != nil {
			return err
		}
	}

	// A single key is active by default.
	if activeKID == "" && len(rawKeys) == 1 {
		activeKID = rawKeys[0].KID
	}
	if activeKID == "" {
		return ErrActiveKeyUnset
	}
	return k.SetActive(activeKID)
}

// credentialKey derives the per-purpose AES key from a master key.
func (k *Keyring) credentialKey(kid string) ([]byte, error) {
	master, ok := k.keys[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(credentialInfo)), out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateKey creates random master key material.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
