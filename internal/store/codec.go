package store

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"styleauth/internal/model"
)

// ErrMalformed means a stored bundle could not be decoded.
var ErrMalformed = errors.New("store: malformed bundle")

//go:embed bundle.schema.json
var bundleSchemaJSON []byte

const (
	bundleFormat    = 1
	bundleSchemaURL = "https://styleauth.local/schema/bundle-v1.schema.json"
)

// envelope is the on-disk form of a bundle in the file store. The MAC covers
// the exact bundle bytes.
type envelope struct {
	Format int             `json:"format"`
	HMAC   string          `json:"hmac,omitempty"`
	Bundle json.RawMessage `json:"bundle"`
}

var (
	schemaOnce   sync.Once
	bundleSchema *jsonschema.Schema
	schemaErr    error
)

func compiledBundleSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(bundleSchemaURL, bytes.NewReader(bundleSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add bundle schema: %w", err)
			return
		}
		bundleSchema, schemaErr = c.Compile(bundleSchemaURL)
	})
	return bundleSchema, schemaErr
}

// encodePayload validates m and returns its canonical JSON.
func encodePayload(m *model.UserModel) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return data, nil
}

func decodePayload(payload []byte) (*model.UserModel, error) {
	var m model.UserModel
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func marshalEnvelope(payload []byte, sealer *Sealer) ([]byte, error) {
	env := envelope{Format: bundleFormat, Bundle: payload}
	if sealer != nil {
		env.HMAC = hex.EncodeToString(sealer.Seal(payload))
	}
	return json.Marshal(env)
}

// unmarshalEnvelope validates data against the bundle schema, verifies the
// MAC when a sealer is configured, and decodes the bundle.
func unmarshalEnvelope(data []byte, sealer *Sealer) (*model.UserModel, error) {
	schema, err := compiledBundleSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if sealer != nil {
		tag, err := hex.DecodeString(env.HMAC)
		if err != nil {
			return nil, fmt.Errorf("%w: bad tag encoding", ErrIntegrity)
		}
		if err := sealer.Verify(env.Bundle, tag); err != nil {
			return nil, err
		}
	}
	return decodePayload(env.Bundle)
}
