package prefstore

import (
	"context"
	"errors"
	"fmt"
)

// Suite names an isolated storage partition.
// The zero value is the standard suite.
type Suite struct {
	Name string
}

var (
	Standard = Suite{}
	Common   = Suite{Name: "Common"}
)

func (s Suite) String() string {
	if s.Name == "" {
		return StandardSuiteName
	}
	return s.Name
}

// maxUpdateAttempts bounds the compare-and-swap retries of Slot.Update.
const maxUpdateAttempts = 8

// SlotOption customizes a slot declaration.
type SlotOption func(*slotConfig)

type slotConfig struct {
	suite Suite
}

// InSuite places the slot in the given suite instead of the standard one.
func InSuite(s Suite) SlotOption {
	return func(c *slotConfig) {
		c.suite = s
	}
}

// Slot is a typed, namespaced setting with a default value.
// Slots are plain values and are usually declared once as package variables:
//
//	var RetryCount = prefstore.NewSlot("retry_count", 0, prefstore.InSuite(prefstore.Common))
//
// Reads never fail: a missing value, undecodable bytes or a backend error
// all yield the default. Writes that cannot be encoded are dropped.
// Non-nil pointer, slice and map defaults are returned as-is, so callers
// must not mutate what Get returns for them.
type Slot[T any] struct {
	key      string
	suite    Suite
	def      T
	optional bool
}

// NewSlot declares a slot with an explicit default.
func NewSlot[T any](key string, def T, opts ...SlotOption) Slot[T] {
	var cfg slotConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return Slot[T]{key: key, suite: cfg.suite, def: def}
}

// NewOptionalSlot declares a slot whose default is "no value" (nil).
func NewOptionalSlot[T any](key string, opts ...SlotOption) Slot[*T] {
	s := NewSlot[*T](key, nil, opts...)
	s.optional = true
	return s
}

func (sl Slot[T]) Key() string    { return sl.key }
func (sl Slot[T]) Suite() Suite   { return sl.suite }
func (sl Slot[T]) Default() T     { return sl.def }
func (sl Slot[T]) Optional() bool { return sl.optional }

func (sl Slot[T]) String() string {
	return sl.suite.String() + "/" + sl.key
}

// Get returns the stored value or the slot default.
func (sl Slot[T]) Get(ctx context.Context, s *Store) T {
	p := s.resolve(ctx, sl.suite.Name)
	data, err := p.Get(ctx, sl.key)
	if err != nil {
		return sl.def
	}

	v, err := decode[T](s.codec, data)
	if err != nil {
		s.logf("warn", ctx, "Get %s: %v, using default", sl, err)
		return sl.def
	}
	return v
}

// Set stores v, overwriting any previous value. If v cannot be encoded the
// write is dropped and the stored value is left untouched.
func (sl Slot[T]) Set(ctx context.Context, s *Store, v T) {
	data, err := encode(s.codec, v)
	if err != nil {
		s.logf("warn", ctx, "Set %s: %v, write dropped", sl, err)
		return
	}
	// Partition.Set logs driver failures.
	_ = s.resolve(ctx, sl.suite.Name).Set(ctx, sl.key, data)
}

// Reset removes the stored value so subsequent reads yield the default.
func (sl Slot[T]) Reset(ctx context.Context, s *Store) {
	_ = s.resolve(ctx, sl.suite.Name).Delete(ctx, sl.key)
}

// IsSet reports whether a value is stored for the slot, decodable or not.
func (sl Slot[T]) IsSet(ctx context.Context, s *Store) bool {
	ok, err := s.resolve(ctx, sl.suite.Name).Exists(ctx, sl.key)
	return err == nil && ok
}

// Update applies fn to the current value (or the default) and stores the
// result with compare-and-swap, retrying when another writer got there first.
// Undecodable stored bytes are treated as the default and replaced.
func (sl Slot[T]) Update(ctx context.Context, s *Store, fn func(T) T) error {
	p := s.resolve(ctx, sl.suite.Name)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		old, err := p.Get(ctx, sl.key)
		present := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		cur := sl.def
		if present {
			if v, derr := decode[T](s.codec, old); derr == nil {
				cur = v
			}
		}

		data, err := encode(s.codec, fn(cur))
		if err != nil {
			return err
		}

		var swapped bool
		if present {
			swapped, err = p.CompareAndSwap(ctx, sl.key, old, data)
		} else {
			swapped, err = p.SetNX(ctx, sl.key, data)
		}
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
		s.logf("debug", ctx, "Update %s: attempt %d lost a race", sl, attempt+1)
	}
	return fmt.Errorf("%w: %s", ErrConflict, sl)
}

func encode[T any](c Codec, v T) ([]byte, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

func decode[T any](c Codec, data []byte) (T, error) {
	var v T
	if err := c.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

// Value binds a slot to a store, the way a property wrapper binds a
// declaration to its backing storage.
type Value[T any] struct {
	store *Store
	slot  Slot[T]
}

// Bind returns a Value reading and writing slot through s.
func Bind[T any](s *Store, slot Slot[T]) *Value[T] {
	return &Value[T]{store: s, slot: slot}
}

func (v *Value[T]) Slot() Slot[T]                  { return v.slot }
func (v *Value[T]) Get(ctx context.Context) T      { return v.slot.Get(ctx, v.store) }
func (v *Value[T]) Set(ctx context.Context, val T) { v.slot.Set(ctx, v.store, val) }
func (v *Value[T]) Reset(ctx context.Context)      { v.slot.Reset(ctx, v.store) }

func (v *Value[T]) Update(ctx context.Context, fn func(T) T) error {
	return v.slot.Update(ctx, v.store, fn)
}
