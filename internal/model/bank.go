package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"styleauth/internal/features"
)

// BankError reports which grid point broke bank construction.
type BankError struct {
	UserID string
	Key    Key
	Err    error
}

func (e *BankError) Error() string {
	return fmt.Sprintf("bank %q %s: %v", e.UserID, e.Key, e.Err)
}

func (e *BankError) Unwrap() error { return e.Err }

// Loader fetches one bundle. Implementations return an error wrapping
// ErrModelNotFound when the bundle does not exist.
type Loader interface {
	Load(ctx context.Context, userID string, key Key) (*UserModel, error)
}

// KeyLister is implemented by loaders that can enumerate stored keys. LoadBank
// uses it to tell a grid mismatch apart from a plain missing bundle.
type KeyLister interface {
	Keys(ctx context.Context, userID string) ([]Key, error)
}

// Bank is the complete, read-only set of models for one user across a grid.
type Bank struct {
	userID string
	grid   Grid
	schema   features.Version
	analyzer string
	width    int
	models []*UserModel
	byKey  map[Key]*UserModel
}

// NewBank assembles a bank, failing closed: every grid point must be present
// exactly once, every model must belong to userID, share one schema version
// and analyzer, and expect the schema's vector width.
func NewBank(userID string, grid Grid, models []*UserModel) (*Bank, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	byKey := make(map[Key]*UserModel, len(models))
	for _, m := range models {
		if err := m.Validate(); err != nil {
			return nil, bankErr(userID, m, err)
		}
		if m.UserID != userID {
			return nil, &BankError{UserID: userID, Key: m.Key(), Err: fmt.Errorf("%w: bundle belongs to %q", ErrInvalidModel, m.UserID)}
		}
		if !grid.Contains(m.Key()) {
			return nil, &BankError{UserID: userID, Key: m.Key(), Err: fmt.Errorf("%w: key not in configured grid", ErrInvalidGrid)}
		}
		if _, dup := byKey[m.Key()]; dup {
			return nil, &BankError{UserID: userID, Key: m.Key(), Err: fmt.Errorf("%w: duplicate key", ErrInvalidGrid)}
		}
		byKey[m.Key()] = m
	}

	b := &Bank{userID: userID, grid: grid, byKey: byKey}
	for _, k := range grid.Keys() {
		m, ok := byKey[k]
		if !ok {
			return nil, &BankError{UserID: userID, Key: k, Err: ErrModelNotFound}
		}
		if len(b.models) == 0 {
			b.schema = m.SchemaVersion
			b.analyzer = m.Analyzer
			b.width = m.Width()
		}
		if m.SchemaVersion != b.schema {
			return nil, &BankError{UserID: userID, Key: k, Err: fmt.Errorf("%w: schema v%d mixed with v%d", ErrSchemaMismatch, m.SchemaVersion, b.schema)}
		}
		if m.Analyzer != b.analyzer {
			return nil, &BankError{UserID: userID, Key: k, Err: fmt.Errorf("%w: %q mixed with %q", ErrAnalyzerMismatch, m.Analyzer, b.analyzer)}
		}
		if m.Width() != b.width {
			return nil, &BankError{UserID: userID, Key: k, Err: fmt.Errorf("%w: width %d mixed with %d", ErrDimensionMismatch, m.Width(), b.width)}
		}
		b.models = append(b.models, m)
	}

	s := features.MustLookup(b.schema)
	if s.Len() != b.width {
		return nil, &BankError{UserID: userID, Key: b.models[0].Key(), Err: fmt.Errorf("%w: schema v%d has %d features, models expect %d", ErrDimensionMismatch, b.schema, s.Len(), b.width)}
	}
	return b, nil
}

func bankErr(userID string, m *UserModel, err error) error {
	var k Key
	if m != nil {
		k = m.Key()
	}
	return &BankError{UserID: userID, Key: k, Err: err}
}

// LoadBank loads every grid point for userID through l. A missing bundle
// fails the whole bank with ErrModelNotFound; when l can list keys and the
// stored keys lie outside the grid, ErrInvalidGrid is reported instead.
func LoadBank(ctx context.Context, l Loader, userID string, grid Grid) (*Bank, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	var stored map[Key]bool
	if kl, ok := l.(KeyLister); ok {
		keys, err := kl.Keys(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list models for %q: %w", userID, err)
		}
		stored = make(map[Key]bool, len(keys))
		for _, k := range keys {
			stored[k] = true
		}
		if err := checkStoredKeys(userID, grid, keys, stored); err != nil {
			return nil, err
		}
	}

	models := make([]*UserModel, 0, grid.Size())
	for _, k := range grid.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stored != nil && !stored[k] {
			return nil, &BankError{UserID: userID, Key: k, Err: ErrModelNotFound}
		}
		m, err := l.Load(ctx, userID, k)
		if err != nil {
			return nil, &BankError{UserID: userID, Key: k, Err: err}
		}
		models = append(models, m)
	}
	return NewBank(userID, grid, models)
}

// checkStoredKeys reports ErrInvalidGrid when the store holds keys outside
// the grid while some grid keys are missing, the signature of a trainer run
// against a different grid.
func checkStoredKeys(userID string, grid Grid, keys []Key, stored map[Key]bool) error {
	var foreign []string
	for _, k := range keys {
		if !grid.Contains(k) {
			foreign = append(foreign, k.String())
		}
	}
	if len(foreign) == 0 {
		return nil
	}
	for _, k := range grid.Keys() {
		if !stored[k] {
			sort.Strings(foreign)
			return &BankError{UserID: userID, Key: k, Err: fmt.Errorf("%w: stored keys outside grid: %s", ErrInvalidGrid, strings.Join(foreign, "; "))}
		}
	}
	return nil
}

// UserID returns the owner of the bank.
func (b *Bank) UserID() string { return b.userID }

// Grid returns the grid the bank was built for.
func (b *Bank) Grid() Grid { return b.grid }

// SchemaVersion returns the feature schema shared by every model.
func (b *Bank) SchemaVersion() features.Version { return b.schema }

// Analyzer returns the analyzer name shared by every model.
func (b *Bank) Analyzer() string { return b.analyzer }

// CheckExtractor reports whether e produces vectors the bank was trained on:
// same schema version and same analyzer.
func (b *Bank) CheckExtractor(e *features.Extractor) error {
	if v := e.Schema().Version(); v != b.schema {
		return fmt.Errorf("%w: bank for %q uses schema %d, extractor produces %d", ErrSchemaMismatch, b.userID, b.schema, v)
	}
	if name := e.AnalyzerName(); name != b.analyzer {
		return fmt.Errorf("%w: bank for %q was trained with %q, extractor uses %q", ErrAnalyzerMismatch, b.userID, b.analyzer, name)
	}
	return nil
}

// Width returns the feature width every model expects.
func (b *Bank) Width() int { return b.width }

// Len returns the number of models.
func (b *Bank) Len() int { return len(b.models) }

// Models returns the models in grid order. The slice is a copy; the models
// are shared and must not be mutated.
func (b *Bank) Models() []*UserModel {
	out := make([]*UserModel, len(b.models))
	copy(out, b.models)
	return out
}

// Model returns the model for k.
func (b *Bank) Model(k Key) (*UserModel, bool) {
	m, ok := b.byKey[k]
	return m, ok
}

// IsUnavailable reports whether err means a bank cannot be served, as opposed
// to a decision against the user.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrModelNotFound) ||
		errors.Is(err, ErrInvalidGrid) ||
		errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrInvalidModel) ||
		errors.Is(err, ErrDimensionMismatch)
}
