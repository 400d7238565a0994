// Package crypto implements the message envelope shared by relay clients.
//
// An envelope is base64(IV || AES-256-CBC(PKCS#7(plaintext))). A fresh IV is drawn
// for every Seal, so sealing the same text twice yields different envelopes.
// The relay never opens envelopes; only clients holding the shared key can.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// IVSize is the CBC initialization vector length (one AES block)
const IVSize = aes.BlockSize

// UnreadablePrefix starts the placeholder shown instead of an envelope that cannot be opened
const UnreadablePrefix = "[Message illisible]"

var (
	// ErrFormat is wrapped by every Open failure: bad base64, short blob,
	// bad padding or non UTF-8 plaintext. Wrong keys surface as ErrFormat too.
	ErrFormat = errors.New("malformed envelope")
)

// Seal encrypts plaintext under key and returns the transport encoded envelope
func Seal(plaintext string, key Key) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	padded := Pad([]byte(plaintext), aes.BlockSize)

	out := make([]byte, IVSize+len(padded))
	iv := out[:IVSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal
func Open(blob string, key Key) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFormat, err)
	}

	if len(raw) < IVSize+aes.BlockSize {
		return "", fmt.Errorf("%w: envelope too short (%d bytes)", ErrFormat, len(raw))
	}

	iv, ciphertext := raw[:IVSize], raw[IVSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrFormat)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFormat, err)
	}

	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrFormat)
	}

	return string(plaintext), nil
}

// OpenOrPlaceholder opens blob or returns a visible placeholder naming the failure
func OpenOrPlaceholder(blob string, key Key) string {
	plaintext, err := Open(blob, key)
	if err != nil {
		return fmt.Sprintf("%s (%v)", UnreadablePrefix, err)
	}
	return plaintext
}
