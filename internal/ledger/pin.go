package ledger

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// PINHasher turns PINs into stored credentials and checks them.
type PINHasher interface {
	Hash(pin string) (string, error)
	Verify(pin, encoded string) (bool, error)
}

// Argon2Hasher stores base64(salt || argon2id(pin, salt)).
type Argon2Hasher struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
		SaltLen: 16,
	}
}

func (h *Argon2Hasher) Hash(pin string) (string, error) {
	salt := make([]byte, h.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(pin), salt, h.Time, h.Memory, h.Threads, h.KeyLen)

	result := make([]byte, len(salt)+len(hash))
	copy(result, salt)
	copy(result[len(salt):], hash)

	return base64.StdEncoding.EncodeToString(result), nil
}

func (h *Argon2Hasher) Verify(pin, encoded string) (bool, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, fmt.Errorf("invalid PIN hash format: %w", err)
	}

	if len(decoded) <= h.SaltLen {
		return false, errors.New("PIN hash too short")
	}

	salt := decoded[:h.SaltLen]
	storedHash := decoded[h.SaltLen:]

	inputHash := argon2.IDKey([]byte(pin), salt, h.Time, h.Memory, h.Threads, uint32(len(storedHash)))

	return subtle.ConstantTimeCompare(inputHash, storedHash) == 1, nil
}
