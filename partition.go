package prefstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// Partition is a resolved suite: a byte-level view of the driver with keys
// prefixed as "root:suite:". Unlike slot access, partition operations
// report errors.
type Partition struct {
	store           *Store
	name            string
	prefix          string
	prefixWithColon string
}

// Name returns the suite name, StandardSuiteName for the standard partition.
func (p *Partition) Name() string {
	return p.name
}

// Prefix returns the driver key prefix without the trailing colon.
func (p *Partition) Prefix() string {
	return p.prefix
}

func (p *Partition) key(k string) string {
	return p.prefixWithColon + k
}

// Get returns the raw bytes stored under key, or ErrNotFound.
func (p *Partition) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := p.store.driver.Get(ctx, p.key(key))
	if err != nil && !errors.Is(err, ErrNotFound) {
		p.store.logf("error", ctx, "Get %s/%s failed: %v", p.name, key, err)
	}
	return data, err
}

// Set stores value under key, replacing any previous value.
func (p *Partition) Set(ctx context.Context, key string, value []byte) error {
	err := p.store.driver.Set(ctx, p.key(key), value)
	if err != nil {
		p.store.logf("error", ctx, "Set %s/%s failed: %v", p.name, key, err)
	}
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (p *Partition) Delete(ctx context.Context, key string) error {
	err := p.store.driver.Delete(ctx, p.key(key))
	if err != nil {
		p.store.logf("error", ctx, "Delete %s/%s failed: %v", p.name, key, err)
	}
	return err
}

// Exists reports whether key holds a value.
func (p *Partition) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := p.store.driver.Exists(ctx, p.key(key))
	if err != nil {
		p.store.logf("error", ctx, "Exists %s/%s failed: %v", p.name, key, err)
	}
	return exists, err
}

// Keys returns the keys stored in this partition that match pattern.
func (p *Partition) Keys(ctx context.Context, pattern string) ([]string, error) {
	fullKeys, err := p.store.driver.Keys(ctx, p.prefix, pattern)
	if err != nil {
		p.store.logf("error", ctx, "Keys %s pattern=%s failed: %v", p.name, pattern, err)
		return nil, err
	}

	keys := make([]string, 0, len(fullKeys))
	for _, fullKey := range fullKeys {
		if k, ok := strings.CutPrefix(fullKey, p.prefixWithColon); ok && k != "" {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Clear removes every key in this partition.
func (p *Partition) Clear(ctx context.Context) error {
	err := p.store.driver.Clear(ctx, p.prefix)
	if err != nil {
		p.store.logf("error", ctx, "Clear %s failed: %v", p.name, err)
	}
	return err
}

// SetNX stores value only if key is absent and reports whether it did.
func (p *Partition) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := p.store.driver.SetNX(ctx, p.key(key), value)
	if err != nil {
		p.store.logf("error", ctx, "SetNX %s/%s failed: %v", p.name, key, err)
	}
	return ok, err
}

// CompareAndSwap replaces the value under key with newValue only if it
// currently equals oldValue, and reports whether the swap happened.
func (p *Partition) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	ok, err := p.store.driver.CompareAndSwap(ctx, p.key(key), oldValue, newValue)
	if err != nil {
		p.store.logf("error", ctx, "CompareAndSwap %s/%s failed: %v", p.name, key, err)
	}
	return ok, err
}

// MatchKey reports whether key lies under prefix and the rest of it matches
// the glob pattern. Drivers use it to implement Keys consistently.
func MatchKey(prefix, pattern, key string) (bool, error) {
	rest, ok := strings.CutPrefix(key, prefix+":")
	if !ok {
		return false, nil
	}
	if pattern == "" || pattern == "*" {
		return true, nil
	}
	matched, err := filepath.Match(pattern, rest)
	if err != nil {
		return false, ErrInvalidPattern
	}
	return matched, nil
}
