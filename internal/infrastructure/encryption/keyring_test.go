package encryption

import (
	"bytes"
	"strings"
	"testing"

	"shop-integrations-layer/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(id string, b byte) Key {
	return Key{ID: id, Secret: bytes.Repeat([]byte{b}, keySize)}
}

func TestKeyRing_RoundTrip(t *testing.T) {
	ring, err := NewKeyRing([]Key{testKey("k1", 1)}, "k1")
	require.NoError(t, err)

	blob, err := ring.Encrypt("t1")
	require.NoError(t, err)
	assert.NotEqual(t, "t1", blob)
	assert.True(t, strings.HasPrefix(blob, "k1:"))

	plain, err := ring.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "t1", plain)
}

func TestKeyRing_NonceIsFresh(t *testing.T) {
	ring, err := NewKeyRing([]Key{testKey("k1", 1)}, "")
	require.NoError(t, err)
	assert.Equal(t, "k1", ring.ActiveKeyID(), "first key is active by default")

	a, _ := ring.Encrypt("same")
	b, _ := ring.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestKeyRing_Rotation(t *testing.T) {
	old, err := NewKeyRing([]Key{testKey("k1", 1)}, "k1")
	require.NoError(t, err)
	legacy, err := old.Encrypt("secret")
	require.NoError(t, err)

	rotated, err := NewKeyRing([]Key{testKey("k2", 2), testKey("k1", 1)}, "k2")
	require.NoError(t, err)
	assert.Equal(t, "k2", rotated.ActiveKeyID())

	plain, err := rotated.Decrypt(legacy)
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)

	fresh, err := rotated.Encrypt("secret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fresh, "k2:"))

	_, err = old.Decrypt(fresh)
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestKeyRing_DecryptRejectsBadInput(t *testing.T) {
	ring, err := NewKeyRing([]Key{testKey("k1", 1), testKey("k2", 2)}, "k1")
	require.NoError(t, err)
	blob, err := ring.Encrypt("payload")
	require.NoError(t, err)

	tampered := []byte(blob)
	tampered[len(tampered)-3] ^= 0x01
	relabelled := "k2" + strings.TrimPrefix(blob, "k1")

	for name, input := range map[string]string{
		"empty":       "",
		"no prefix":   "abcdef",
		"unknown key": "k9:" + strings.TrimPrefix(blob, "k1:"),
		"not base64":  "k1:!!!",
		"too short":   "k1:AAAA",
		"tampered":    string(tampered),
		"relabelled":  relabelled,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ring.Decrypt(input)
			assert.ErrorIs(t, err, domain.ErrDecryption)
		})
	}
}

func TestNewKeyRing_Validation(t *testing.T) {
	_, err := NewKeyRing(nil, "")
	assert.Error(t, err)

	_, err = NewKeyRing([]Key{{ID: "k1", Secret: []byte("short")}}, "k1")
	assert.Error(t, err)

	_, err = NewKeyRing([]Key{testKey("k1", 1)}, "missing")
	assert.Error(t, err)

	_, err = NewKeyRing([]Key{testKey("k1", 1), testKey("k1", 2)}, "k1")
	assert.Error(t, err)
}

func TestParseKeys(t *testing.T) {
	keys, err := ParseKeys("k1:AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=, k2:AgICAgICAgICAgICAgICAgICAgICAgICAgICAgICAgI=")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k1", keys[0].ID)
	assert.Len(t, keys[1].Secret, keySize)

	_, err = ParseKeys("nocolon")
	assert.Error(t, err)
}
