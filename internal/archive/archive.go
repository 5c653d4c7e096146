// Package archive stores flattened transaction hierarchies in a blob store
// so that an in-flight unit of work can be parked and resumed later.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"txcore/internal/blob"
	"txcore/internal/core"
	"txcore/pkg/domain"
)

const (
	defaultPrefix = "snapshots/"
	suffix        = ".json"
	contentType   = "application/json"
)

// Archive saves and restores transaction snapshots.
type Archive struct {
	store  blob.Store
	prefix string
}

// Option configures an Archive.
type Option func(*Archive)

// WithPrefix overrides the key prefix (default "snapshots/").
func WithPrefix(prefix string) Option {
	return func(a *Archive) {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// New returns an archive backed by store.
func New(store blob.Store, opts ...Option) *Archive {
	a := &Archive{store: store, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Entry describes one stored snapshot.
type Entry struct {
	Name   string
	Levels int
	Root   string
	Info   blob.Info
}

func (a *Archive) key(name string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: snapshot name %q", blob.ErrInvalidKey, name)
	}
	return a.prefix + name + suffix, nil
}

// Save flattens the hierarchy tx belongs to and stores it under name.
// Existing snapshots are never overwritten.
func (a *Archive) Save(ctx context.Context, name string, tx *core.ClientTransaction) (Entry, error) {
	key, err := a.key(name)
	if err != nil {
		return Entry{}, err
	}
	flat, err := core.Flatten(tx)
	if err != nil {
		return Entry{}, fmt.Errorf("flatten %s: %w", name, err)
	}
	payload, err := json.Marshal(flat)
	if err != nil {
		return Entry{}, fmt.Errorf("encode %s: %w", name, err)
	}
	root := flat.Levels[0].ID
	info, err := a.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"format": strconv.Itoa(flat.Format),
			"levels": strconv.Itoa(len(flat.Levels)),
			"root":   root,
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("store %s: %w", name, err)
	}
	return Entry{Name: name, Levels: len(flat.Levels), Root: root, Info: info}, nil
}

// Read returns the stored flat form without restoring it.
func (a *Archive) Read(ctx context.Context, name string) (core.FlatTransaction, error) {
	key, err := a.key(name)
	if err != nil {
		return core.FlatTransaction{}, err
	}
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return core.FlatTransaction{}, fmt.Errorf("read %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()
	var flat core.FlatTransaction
	if err := json.NewDecoder(rc).Decode(&flat); err != nil {
		return core.FlatTransaction{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return flat, nil
}

// Load restores the snapshot into a new hierarchy over p and returns its root.
func (a *Archive) Load(ctx context.Context, name string, p domain.Persistence, opts ...core.Option) (*core.ClientTransaction, error) {
	flat, err := a.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	return core.Unflatten(flat, p, opts...)
}

// List returns the stored snapshots ordered by name.
func (a *Archive) List(ctx context.Context) ([]Entry, error) {
	infos, err := a.store.List(ctx, a.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(infos))
	for _, info := range infos {
		name := strings.TrimSuffix(strings.TrimPrefix(info.Key, a.prefix), suffix)
		if name == info.Key || strings.Contains(name, "/") {
			continue
		}
		entry := Entry{Name: name, Info: info}
		// Some backends only return metadata from Head.
		if info.Metadata == nil {
			if head, err := a.store.Head(ctx, info.Key); err == nil {
				entry.Info = head
			}
		}
		entry.Levels, _ = strconv.Atoi(entry.Info.Metadata["levels"])
		entry.Root = entry.Info.Metadata["root"]
		out = append(out, entry)
	}
	return out, nil
}

// Delete removes a snapshot and reports whether it existed.
func (a *Archive) Delete(ctx context.Context, name string) (bool, error) {
	key, err := a.key(name)
	if err != nil {
		return false, err
	}
	return a.store.Delete(ctx, key)
}
