package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrSealTampered reports a datagram that failed authenticated decryption.
// Such packets are dropped and logged, never fatal: a stray datagram from a
// previous session can legitimately reach a reused port.
var ErrSealTampered = errors.New("datagram failed authentication")

// Sealer applies optional AES-GCM payload encryption to datagrams. The TCP
// control channel relies on TLS instead; only the unreliable channel carries
// its own record protection.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AEAD from a 16- or 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("sealer key must be 16 or 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealer cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealer gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts a plaintext datagram, prepending the random nonce.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	if s == nil || s.aead == nil {
		return plain, nil
	}
	//1.- A fresh nonce per datagram keeps GCM safe under reordering and loss.
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealer nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open authenticates and decrypts a sealed datagram.
func (s *Sealer) Open(packet []byte) ([]byte, error) {
	if s == nil || s.aead == nil {
		return packet, nil
	}
	if len(packet) < s.aead.NonceSize() {
		return nil, ErrSealTampered
	}
	nonce, sealed := packet[:s.aead.NonceSize()], packet[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrSealTampered
	}
	return plain, nil
}
