package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"styleauth/internal/model"
)

// FileStore keeps one JSON envelope per bundle:
// <dir>/user_<id>_nu_<nu>_gamma_<gamma>.json
type FileStore struct {
	dir    string
	sealer *Sealer
}

// OpenFileStore opens (creating if needed) a bundle directory.
func OpenFileStore(dir string, sealer *Sealer) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create bundle directory: %w", err)
	}
	if _, err := compiledBundleSchema(); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, sealer: sealer}, nil
}

// Close implements BundleStore.
func (s *FileStore) Close() error { return nil }

// Dir returns the bundle directory.
func (s *FileStore) Dir() string { return s.dir }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// bundleFileName escapes the user id so it cannot leave the directory or
// collide with the key separators.
func bundleFileName(userID string, k model.Key) string {
	return "user_" + escapeUser(userID) + "_nu_" + formatFloat(k.Nu) + "_gamma_" + formatFloat(k.Gamma) + ".json"
}

func escapeUser(userID string) string {
	return strings.ReplaceAll(url.PathEscape(userID), "_", "%5F")
}

// parseBundleFileName is the inverse of bundleFileName.
func parseBundleFileName(name string) (string, model.Key, bool) {
	if !strings.HasPrefix(name, "user_") || !strings.HasSuffix(name, ".json") {
		return "", model.Key{}, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, "user_"), ".json")
	parts := strings.Split(rest, "_")
	if len(parts) != 5 || parts[1] != "nu" || parts[3] != "gamma" {
		return "", model.Key{}, false
	}
	user, err := url.PathUnescape(parts[0])
	if err != nil || user == "" {
		return "", model.Key{}, false
	}
	nu, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return "", model.Key{}, false
	}
	gamma, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return "", model.Key{}, false
	}
	return user, model.Key{Nu: nu, Gamma: gamma}, true
}

// staged is a bundle written to a temp file, not yet installed.
type staged struct {
	tmp, path string
}

// stage encodes m and writes it next to its final path.
func (s *FileStore) stage(m *model.UserModel) (staged, error) {
	payload, err := encodePayload(m)
	if err != nil {
		return staged{}, err
	}
	data, err := marshalEnvelope(payload, s.sealer)
	if err != nil {
		return staged{}, fmt.Errorf("encode envelope: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".bundle-*")
	if err != nil {
		return staged{}, fmt.Errorf("create temp bundle: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return staged{}, fmt.Errorf("write bundle: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return staged{}, fmt.Errorf("chmod bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return staged{}, fmt.Errorf("close bundle: %w", err)
	}
	return staged{tmp: tmpName, path: filepath.Join(s.dir, bundleFileName(m.UserID, m.Key()))}, nil
}

func (st staged) install() error {
	if err := os.Rename(st.tmp, st.path); err != nil {
		os.Remove(st.tmp)
		return fmt.Errorf("install bundle: %w", err)
	}
	return nil
}

// Save implements BundleStore. Files are written atomically.
func (s *FileStore) Save(_ context.Context, m *model.UserModel) error {
	st, err := s.stage(m)
	if err != nil {
		return err
	}
	return st.install()
}

// SaveAll implements BatchSaver. Every bundle is encoded and written to a
// temp file before any is installed, so an encoding or write error leaves
// the stored set untouched.
func (s *FileStore) SaveAll(ctx context.Context, models []*model.UserModel) error {
	batch := make([]staged, 0, len(models))
	discard := func() {
		for _, st := range batch {
			os.Remove(st.tmp)
		}
	}
	for _, m := range models {
		if err := ctx.Err(); err != nil {
			discard()
			return err
		}
		st, err := s.stage(m)
		if err != nil {
			discard()
			return err
		}
		batch = append(batch, st)
	}
	for i, st := range batch {
		if err := st.install(); err != nil {
			for _, rest := range batch[i+1:] {
				os.Remove(rest.tmp)
			}
			return err
		}
	}
	return nil
}

// Load implements model.Loader.
func (s *FileStore) Load(_ context.Context, userID string, k model.Key) (*model.UserModel, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, bundleFileName(userID, k)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(userID, k)
		}
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	m, err := unmarshalEnvelope(data, s.sealer)
	if err != nil {
		return nil, fmt.Errorf("bundle %q %s: %w", userID, k, err)
	}
	if err := checkIdentity(m, userID, k); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *FileStore) scan() (map[string][]model.Key, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read bundle directory: %w", err)
	}
	out := make(map[string][]model.Key)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		user, k, ok := parseBundleFileName(e.Name())
		if !ok {
			continue
		}
		out[user] = append(out[user], k)
	}
	return out, nil
}

// Keys implements model.KeyLister.
func (s *FileStore) Keys(_ context.Context, userID string) ([]model.Key, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	keys := all[userID]
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Nu != keys[j].Nu {
			return keys[i].Nu < keys[j].Nu
		}
		return keys[i].Gamma < keys[j].Gamma
	})
	return keys, nil
}

// Users implements BundleStore.
func (s *FileStore) Users(_ context.Context) ([]string, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(all))
	for u := range all {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Delete implements BundleStore.
func (s *FileStore) Delete(ctx context.Context, userID string) (int, error) {
	keys, err := s.Keys(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if err := os.Remove(filepath.Join(s.dir, bundleFileName(userID, k))); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return n, fmt.Errorf("remove bundle: %w", err)
		}
		n++
	}
	return n, nil
}
