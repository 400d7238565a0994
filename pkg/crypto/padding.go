package crypto

import (
	"errors"
)

var (
	ErrInvalidPadding = errors.New("invalid padding")
)

// Pad appends PKCS#7 padding up to a multiple of blockSize.
// A full block of padding is added when the input is already aligned.
func Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize

	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	return padded
}

// Unpad strips and verifies PKCS#7 padding
func Unpad(padded []byte, blockSize int) ([]byte, error) {
	if len(padded) == 0 || len(padded)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}

	padLen := int(padded[len(padded)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, ErrInvalidPadding
	}

	for _, b := range padded[len(padded)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}

	return padded[:len(padded)-padLen], nil
}
