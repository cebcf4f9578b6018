package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"shop-integrations-layer/internal/domain"
)

const keySize = 32

// Key is one AES-256 key identified by a short id that prefixes every blob it produces.
type Key struct {
	ID     string
	Secret []byte
}

// KeyRing encrypts with the active key and decrypts with whichever key the blob names.
// It is read-only after construction.
type KeyRing struct {
	active string
	order  []string
	aeads  map[string]cipher.AEAD
	rand   io.Reader
}

// NewKeyRing builds a ring from keys listed in decryption order. activeID selects the encryption key.
func NewKeyRing(keys []Key, activeID string) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one encryption key is required")
	}
	ring := &KeyRing{
		active: activeID,
		aeads:  make(map[string]cipher.AEAD, len(keys)),
		rand:   rand.Reader,
	}
	for _, k := range keys {
		if k.ID == "" || strings.Contains(k.ID, ":") {
			return nil, fmt.Errorf("invalid encryption key id %q", k.ID)
		}
		if len(k.Secret) != keySize {
			return nil, fmt.Errorf("encryption key %q must be %d bytes, got %d", k.ID, keySize, len(k.Secret))
		}
		if _, dup := ring.aeads[k.ID]; dup {
			return nil, fmt.Errorf("duplicate encryption key id %q", k.ID)
		}
		block, err := aes.NewCipher(k.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher for key %q: %w", k.ID, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create gcm for key %q: %w", k.ID, err)
		}
		ring.aeads[k.ID] = gcm
		ring.order = append(ring.order, k.ID)
	}
	if ring.active == "" {
		ring.active = ring.order[0]
	}
	if _, ok := ring.aeads[ring.active]; !ok {
		return nil, fmt.Errorf("active encryption key %q is not in the key ring", ring.active)
	}
	return ring, nil
}

// ParseKeys parses "id:base64key,id2:base64key" as used by ENCRYPTION_KEYS.
func ParseKeys(raw string) ([]Key, error) {
	var keys []Key
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, encoded, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("encryption key entry must be id:base64key")
		}
		secret, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode encryption key %q: %w", id, err)
		}
		keys = append(keys, Key{ID: id, Secret: secret})
	}
	return keys, nil
}

// ActiveKeyID returns the id new blobs are encrypted under.
func (r *KeyRing) ActiveKeyID() string {
	return r.active
}

// Encrypt returns "<key id>:<base64url(nonce|ciphertext|tag)>".
func (r *KeyRing) Encrypt(plaintext string) (string, error) {
	gcm := r.aeads[r.active]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(r.rand, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	// key id is bound as associated data so a blob cannot be relabelled
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(r.active))
	return r.active + ":" + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed, unknown-key or forged blob
// yields domain.ErrDecryption.
func (r *KeyRing) Decrypt(blob string) (string, error) {
	id, encoded, ok := strings.Cut(blob, ":")
	if !ok || id == "" {
		return "", domain.ErrDecryption
	}
	gcm, ok := r.aeads[id]
	if !ok {
		return "", fmt.Errorf("unknown key id %q: %w", id, domain.ErrDecryption)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return "", domain.ErrDecryption
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, []byte(id))
	if err != nil {
		return "", domain.ErrDecryption
	}
	return string(plain), nil
}
