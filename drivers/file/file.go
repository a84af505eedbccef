// Package file persists prefstore values in a single TOML document on disk.
//
// Every mutation rewrites the file through a temporary file and a rename,
// so a crash leaves either the old or the new document in place.
package file

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"code.byted.org/khicago/prefstore"
)

var _ prefstore.Driver = (*Driver)(nil)

type document struct {
	Entries map[string]string `toml:"entries"`
}

// Driver is a file-backed prefstore.Driver. Values are cached in memory and
// written through on every change.
type Driver struct {
	mu   sync.RWMutex
	path string
	data map[string][]byte
}

// Open loads the document at path, or starts empty if it does not exist yet.
// The file is created on the first write.
func Open(path string) (*Driver, error) {
	d := &Driver{path: path, data: make(map[string][]byte)}

	var doc document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return d, nil
		}
		return nil, fmt.Errorf("file: failed to read %s: %w", path, err)
	}

	for key, encoded := range doc.Entries {
		value, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("file: entry %q in %s: %w", key, path, err)
		}
		d.data[key] = value
	}
	return d, nil
}

// Path returns the location of the backing document.
func (d *Driver) Path() string {
	return d.path
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	if !ok {
		return nil, prefstore.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (d *Driver) Set(ctx context.Context, key string, value []byte) error {
	_, err := d.mutate(func(data map[string][]byte) bool {
		data[key] = append([]byte(nil), value...)
		return true
	})
	return err
}

func (d *Driver) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	return d.mutate(func(data map[string][]byte) bool {
		if _, ok := data[key]; ok {
			return false
		}
		data[key] = append([]byte(nil), value...)
		return true
	})
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	_, err := d.mutate(func(data map[string][]byte) bool {
		if _, ok := data[key]; !ok {
			return false
		}
		delete(data, key)
		return true
	})
	return err
}

func (d *Driver) Exists(ctx context.Context, key string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.data[key]
	return ok, nil
}

func (d *Driver) Keys(ctx context.Context, prefix, pattern string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var keys []string
	for key := range d.data {
		ok, err := prefstore.MatchKey(prefix, pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Driver) Clear(ctx context.Context, prefix string) error {
	_, err := d.mutate(func(data map[string][]byte) bool {
		changed := false
		for key := range data {
			if strings.HasPrefix(key, prefix+":") {
				delete(data, key)
				changed = true
			}
		}
		return changed
	})
	return err
}

func (d *Driver) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	return d.mutate(func(data map[string][]byte) bool {
		cur, ok := data[key]
		if !ok || !bytes.Equal(cur, oldValue) {
			return false
		}
		data[key] = append([]byte(nil), newValue...)
		return true
	})
}

// mutate applies fn to a copy of the data and, if fn reports a change,
// persists the copy before making it current.
func (d *Driver) mutate(fn func(map[string][]byte) bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string][]byte, len(d.data)+1)
	for k, v := range d.data {
		next[k] = v
	}
	if !fn(next) {
		return false, nil
	}
	if err := d.write(next); err != nil {
		return false, err
	}
	d.data = next
	return true, nil
}

func (d *Driver) write(data map[string][]byte) error {
	doc := document{Entries: make(map[string]string, len(data))}
	for k, v := range data {
		doc.Entries[k] = base64.StdEncoding.EncodeToString(v)
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file: failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("file: failed to encode %s: %w", d.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file: failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: failed to write %s: %w", d.path, err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("file: failed to replace %s: %w", d.path, err)
	}
	return syncDir(dir)
}

// syncDir flushes the directory entry so the rename itself is durable.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("file: failed to open %s: %w", dir, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return fmt.Errorf("file: failed to sync %s: %w", dir, err)
	}
	return nil
}
