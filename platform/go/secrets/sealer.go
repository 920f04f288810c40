package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MinMasterKeySize is the shortest master key accepted by NewSealer.
const MinMasterKeySize = 32

// SealedVersion is the format byte prepended to every sealed blob. It is
// also authenticated, so flipping it fails Open.
const SealedVersion byte = 0x01

// SealedOverhead is version + XChaCha20-Poly1305 nonce + tag.
const SealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Sealer encrypts small records at rest with a key derived from a master
// secret. Each purpose gets its own derived key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a purpose-bound key from master via HKDF-SHA256.
func NewSealer(master []byte, purpose string) (*Sealer, error) {
	if len(master) < MinMasterKeySize {
		return nil, fmt.Errorf("master key is %d bytes, minimum is %d", len(master), MinMasterKeySize)
	}
	if strings.TrimSpace(purpose) == "" {
		return nil, errors.New("sealer purpose is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromBase64 decodes a standard base64 master key and calls NewSealer.
func NewSealerFromBase64(encoded, purpose string) (*Sealer, error) {
	master, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return NewSealer(master, purpose)
}

// Seal returns [version][nonce][ciphertext+tag]. binding is authenticated
// but not stored; Open must be given the same binding.
func (s *Sealer) Seal(plaintext, binding []byte) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+s.aead.Overhead())
	out[0] = SealedVersion
	copy(out[1:], nonce[:])

	return s.aead.Seal(out, nonce[:], plaintext, aad(SealedVersion, binding)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, binding []byte) ([]byte, error) {
	if len(sealed) < SealedOverhead {
		return nil, fmt.Errorf("sealed blob is %d bytes, minimum is %d", len(sealed), SealedOverhead)
	}
	if sealed[0] != SealedVersion {
		return nil, fmt.Errorf("sealed blob version %d is not supported (expected %d)", sealed[0], SealedVersion)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := s.aead.Open(nil, nonce, ciphertext, aad(sealed[0], binding))
	if err != nil {
		return nil, fmt.Errorf("open sealed blob (wrong key, tampered data, or mismatched binding): %w", err)
	}
	return plaintext, nil
}

func aad(version byte, binding []byte) []byte {
	out := make([]byte, 1+len(binding))
	out[0] = version
	copy(out[1:], binding)
	return out
}
