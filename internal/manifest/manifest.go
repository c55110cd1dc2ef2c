package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"convoy/internal/fingerprint"
	blobrepo "convoy/internal/repository/blob"
)

const (
	DefaultName    = "manifest.json"
	DefaultVersion = "1.0"
)

// Manifest is the persisted form of an Index.
type Manifest struct {
	Paths   map[string]string `json:"paths"`
	Version string            `json:"version"`
	// Hash names the fingerprint scheme the paths were hashed with.
	Hash string `json:"hash"`
}

// WriteError reports a failed manifest flush. It is fatal to a build.
type WriteError struct {
	Name string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write manifest %s: %v", e.Name, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Read decodes the manifest blob. A missing blob yields ok=false.
func Read(ctx context.Context, store blobrepo.Store, name string) (Manifest, bool, error) {
	raw, err := blobrepo.ReadAll(ctx, store, name)
	if err != nil {
		if errors.Is(err, blobrepo.ErrNotFound) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("read manifest %s: %w", name, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("decode manifest %s: %w", name, err)
	}
	if m.Paths == nil {
		m.Paths = map[string]string{}
	}
	return m, true, nil
}

// Load builds an Index from the manifest blob, empty when none exists. A
// manifest hashed under another fingerprint scheme is treated as absent.
func Load(ctx context.Context, store blobrepo.Store, name string) (*Index, string, error) {
	idx := NewIndex()
	m, ok, err := Read(ctx, store, name)
	if err != nil {
		return nil, "", err
	}
	if !ok || m.Hash != fingerprint.HashScheme {
		return idx, "", nil
	}
	idx.Replace(m.Paths)
	return idx, m.Version, nil
}

// Write serializes idx completely before replacing the stored manifest, so a
// failed encode never touches the previous blob.
func Write(ctx context.Context, store blobrepo.Store, name string, idx *Index, version string) error {
	if version == "" {
		version = DefaultVersion
	}
	payload, err := json.Marshal(Manifest{
		Paths:   idx.Snapshot(),
		Version: version,
		Hash:    fingerprint.HashScheme,
	})
	if err != nil {
		return &WriteError{Name: name, Err: err}
	}
	if _, err := store.Save(ctx, name, payload); err != nil {
		return &WriteError{Name: name, Err: err}
	}
	return nil
}
