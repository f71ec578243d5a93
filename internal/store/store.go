// Package store persists trained model bundles keyed by (user, nu, gamma).
//
// Two backends are provided: a SQLite database that also keeps decision and
// training history, and a directory of JSON files validated against an
// embedded schema. Both optionally authenticate every bundle with an
// HMAC-SHA256 tag; a bundle that fails verification is never served.
package store

import (
	"context"
	"fmt"
	"time"

	"styleauth/internal/model"
)

// BundleStore is the persistence boundary between trainer and serving path.
type BundleStore interface {
	model.Loader
	model.KeyLister

	// Save writes or replaces the bundle for m's (user, nu, gamma).
	Save(ctx context.Context, m *model.UserModel) error
	// Users lists every user with at least one stored bundle.
	Users(ctx context.Context) ([]string, error)
	// Delete removes every bundle of userID and reports how many were removed.
	Delete(ctx context.Context, userID string) (int, error)
	Close() error
}

// Backend names accepted by Open.
const (
	TypeSQLite = "sqlite"
	TypeFile   = "file"
)

// Options selects and configures a backend.
type Options struct {
	Type        string
	Path        string
	Sealer      *Sealer
	BusyTimeout time.Duration
}

// Open returns the configured backend.
func Open(opts Options) (BundleStore, error) {
	switch opts.Type {
	case TypeSQLite, "":
		return OpenSQLite(opts.Path, opts.Sealer, opts.BusyTimeout)
	case TypeFile:
		return OpenFileStore(opts.Path, opts.Sealer)
	default:
		return nil, fmt.Errorf("unknown store type %q", opts.Type)
	}
}

func notFound(userID string, k model.Key) error {
	return fmt.Errorf("bundle %q %s: %w", userID, k, model.ErrModelNotFound)
}

// checkIdentity guards against a bundle stored under the wrong key.
func checkIdentity(m *model.UserModel, userID string, k model.Key) error {
	if m.UserID != userID || m.Key() != k {
		return fmt.Errorf("%w: bundle for %q %s stored under %q %s", ErrMalformed, m.UserID, m.Key(), userID, k)
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
