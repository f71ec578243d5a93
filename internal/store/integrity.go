package store

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrIntegrity means a stored bundle failed MAC verification.
var ErrIntegrity = errors.New("store: integrity check failed")

const (
	masterKeySize = 32
	bundleDomain  = "styleauth-bundle-mac-v1"
)

// Sealer computes and verifies HMAC-SHA256 tags over bundle payloads.
type Sealer struct {
	key []byte
}

// NewSealer derives the bundle MAC key from a master secret with HKDF-SHA256.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) < masterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes", masterKeySize)
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, master, []byte(bundleDomain), []byte("hmac-sha256"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive bundle key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal returns the MAC of payload.
func (s *Sealer) Seal(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Verify checks tag against payload.
func (s *Sealer) Verify(payload, tag []byte) error {
	if len(tag) == 0 {
		return fmt.Errorf("%w: missing tag", ErrIntegrity)
	}
	if !hmac.Equal(s.Seal(payload), tag) {
		return fmt.Errorf("%w: tag mismatch", ErrIntegrity)
	}
	return nil
}

// LoadOrCreateMasterKey reads a hex-encoded master key from path, generating
// and persisting a fresh one with 0600 permissions if the file is absent.
func LoadOrCreateMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode master key %s: %w", path, err)
		}
		if len(key) < masterKeySize {
			return nil, fmt.Errorf("master key %s too short: %d bytes", path, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("write master key: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close master key: %w", err)
	}
	return key, nil
}
