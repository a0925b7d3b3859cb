package sso

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// State is the round-tripped handshake payload. It leaves the service sealed
// and must come back byte-exact through the provider redirect.
type State struct {
	ValidUntil time.Time `json:"valid_until"`
	Nonce      string    `json:"nonce"`
}

// StateSealer encrypts and authenticates handshake state with AES-256-GCM.
// The cipher key is derived from the configured secret with SHA-256, so any
// secret accepted by the token service yields a full-size key.
type StateSealer struct {
	aead cipher.AEAD
}

// NewStateSealer derives a sealer from the shared signing secret.
func NewStateSealer(secret []byte) (*StateSealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("sso: state secret is empty")
	}
	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("sso: state cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sso: state cipher: %w", err)
	}
	return &StateSealer{aead: aead}, nil
}

// Seal encrypts the state and encodes nonce||ciphertext as URL-safe base64.
func (s *StateSealer) Seal(state State) (string, error) {
	plain, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("sso: marshal state: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sso: state nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any tampering, truncation or foreign-key input fails
// authentication and returns an error.
func (s *StateSealer) Open(sealed string) (State, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return State{}, fmt.Errorf("sso: decode state: %w", err)
	}
	size := s.aead.NonceSize()
	if len(raw) <= size {
		return State{}, errors.New("sso: sealed state too short")
	}
	plain, err := s.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return State{}, fmt.Errorf("sso: open state: %w", err)
	}
	var state State
	if err := json.Unmarshal(plain, &state); err != nil {
		return State{}, fmt.Errorf("sso: unmarshal state: %w", err)
	}
	return state, nil
}
