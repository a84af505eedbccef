package prefstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound            = errors.New("prefstore: not found")
	ErrDecode              = errors.New("prefstore: decode failure")
	ErrEncode              = errors.New("prefstore: encode failure")
	ErrNamespaceUnresolved = errors.New("prefstore: namespace unresolved")
	ErrInvalidSuite        = errors.New("prefstore: invalid suite name")
	ErrInvalidPattern      = errors.New("prefstore: invalid pattern")
	ErrConflict            = errors.New("prefstore: concurrent update conflict")
)

// DefaultRootNamespace is the key prefix used when WithRootNamespace is not given.
const DefaultRootNamespace = "prefstore"

// StandardSuiteName names the partition that backs the Standard suite and
// every suite that cannot be resolved. It cannot be registered.
const StandardSuiteName = "standard"

// Driver describes the byte-level storage a Store is layered on.
// Keys arrive fully namespaced as "root:suite:key".
// Implementations must be safe for concurrent use on independent keys.
type Driver interface {
	// Get returns ErrNotFound when no value is stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Keys returns the full keys under prefix whose remainder matches the
	// glob pattern. An empty pattern or "*" matches everything.
	Keys(ctx context.Context, prefix, pattern string) ([]string, error)
	Clear(ctx context.Context, prefix string) error

	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error)
}

// Option customizes Store behavior.
type Option func(*Store)

// WithDriver specifies the storage driver.
// If not provided, NewMemory() will be used.
func WithDriver(d Driver) Option {
	return func(s *Store) {
		if d != nil {
			s.driver = d
		}
	}
}

// WithCodec specifies how slot values are serialized. Defaults to JSONCodec.
func WithCodec(c Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithLogger specifies a logger for absorbed failures.
// If not provided, a no-op logger is used (no logging).
func WithLogger(logger Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLogTag sets a tag prefix for all log messages.
func WithLogTag(tag string) Option {
	return func(s *Store) {
		s.logTag = tag
	}
}

// WithRootNamespace sets the outermost key prefix, typically an application id.
func WithRootNamespace(root string) Option {
	return func(s *Store) {
		if root != "" {
			s.root = root
		}
	}
}

// WithSuites registers additional suites. Invalid names are logged and skipped.
func WithSuites(names ...string) Option {
	return func(s *Store) {
		s.pending = append(s.pending, names...)
	}
}

// Store provides typed access to slots over a Driver.
// A Store is safe for concurrent use; it performs no locking around
// driver calls, so read-modify-write sequences need Slot.Update or
// external synchronization.
type Store struct {
	root    string
	driver  Driver
	codec   Codec
	logger  Logger
	logTag  string
	pending []string

	mu       sync.RWMutex
	suites   map[string]*Partition
	standard *Partition
}

// New creates a Store. The Common suite is always registered.
func New(opts ...Option) *Store {
	s := &Store{
		root:   DefaultRootNamespace,
		driver: NewMemory(),
		codec:  JSONCodec{},
		logger: defaultLogger,
		suites: make(map[string]*Partition),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.standard = s.newPartition(StandardSuiteName)
	names := append([]string{Common.Name}, s.pending...)
	s.pending = nil
	for _, name := range names {
		if err := s.Register(name); err != nil {
			s.logf("warn", context.Background(), "skipping suite %q: %v", name, err)
		}
	}
	return s
}

// Codec returns the codec used for slot values.
func (s *Store) Codec() Codec {
	return s.codec
}

// Register makes a suite resolvable. Registering a known suite is a no-op.
func (s *Store) Register(name string) error {
	if err := validateSuite(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.suites[name]; !ok {
		s.suites[name] = s.newPartition(name)
	}
	return nil
}

// Suites returns the registered suite names in sorted order.
func (s *Store) Suites() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.suites))
	for name := range s.suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a suite name to its partition. The empty name, unknown
// names and invalid names all resolve to the standard partition.
func (s *Store) Resolve(name string) *Partition {
	return s.resolve(context.Background(), name)
}

func (s *Store) resolve(ctx context.Context, name string) *Partition {
	if name == "" || name == StandardSuiteName {
		return s.standard
	}

	s.mu.RLock()
	p, ok := s.suites[name]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.logf("debug", ctx, "suite %q: %v, using %s", name, ErrNamespaceUnresolved, StandardSuiteName)
	return s.standard
}

func (s *Store) newPartition(name string) *Partition {
	prefix := s.root + ":" + name
	return &Partition{
		store:           s,
		name:            name,
		prefix:          prefix,
		prefixWithColon: prefix + ":",
	}
}

func (s *Store) logf(level string, ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if s.logTag != "" {
		msg = s.logTag + " " + msg
	}
	switch level {
	case "info":
		s.logger.Info(ctx, "%s", msg)
	case "warn":
		s.logger.Warn(ctx, "%s", msg)
	case "error":
		s.logger.Error(ctx, "%s", msg)
	case "debug":
		s.logger.Debug(ctx, "%s", msg)
	}
}

func validateSuite(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidSuite)
	case name == StandardSuiteName:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidSuite, name)
	case strings.Contains(name, ":"):
		return fmt.Errorf("%w: %q contains ':'", ErrInvalidSuite, name)
	}
	return nil
}
