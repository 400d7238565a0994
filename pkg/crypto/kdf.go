package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the AES-256 key length in bytes
const KeySize = 32

const (
	// PBKDF2Iterations matches the cost used for storage keys
	PBKDF2Iterations = 100000

	// DerivationSalt is constant per application so every peer derives the same key
	DerivationSalt = "ZenTalk-Lite-Relay-v1"
)

var ErrUnknownKDF = errors.New("unknown key derivation function")

// Key is the symmetric key shared by every client of a relay.
// It is derived once from the passphrase and never transmitted.
type Key [KeySize]byte

// KDF names a passphrase-to-key derivation
type KDF string

const (
	// KDFSHA256 - single SHA-256 over the passphrase (reference behaviour)
	KDFSHA256 KDF = "sha256"

	// KDFBlake2b - BLAKE2b-256 over the passphrase
	KDFBlake2b KDF = "blake2b"

	// KDFPBKDF2 - PBKDF2-HMAC-SHA256 with the application salt
	KDFPBKDF2 KDF = "pbkdf2"
)

// ParseKDF normalizes a KDF name from configuration
func ParseKDF(name string) (KDF, error) {
	switch kdf := KDF(strings.ToLower(strings.TrimSpace(name))); kdf {
	case "":
		return KDFSHA256, nil
	case KDFSHA256, KDFBlake2b, KDFPBKDF2:
		return kdf, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKDF, name)
	}
}

// DeriveKey derives the shared key with SHA-256
func DeriveKey(passphrase string) Key {
	return Key(sha256.Sum256([]byte(passphrase)))
}

// DeriveKeyWith derives the shared key with the given KDF.
// Client and relay peers must agree on the KDF, otherwise every message opens as unreadable.
func DeriveKeyWith(kdf KDF, passphrase string) (Key, error) {
	switch kdf {
	case KDFSHA256, "":
		return DeriveKey(passphrase), nil

	case KDFBlake2b:
		return Key(blake2b.Sum256([]byte(passphrase))), nil

	case KDFPBKDF2:
		var key Key
		copy(key[:], pbkdf2.Key(
			[]byte(passphrase),
			[]byte(DerivationSalt),
			PBKDF2Iterations,
			KeySize,
			sha256.New,
		))
		return key, nil

	default:
		return Key{}, fmt.Errorf("%w: %q", ErrUnknownKDF, kdf)
	}
}
