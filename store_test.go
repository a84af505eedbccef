package prefstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type mockDriver struct {
	getFunc    func(ctx context.Context, key string) ([]byte, error)
	setFunc    func(ctx context.Context, key string, value []byte) error
	deleteFunc func(ctx context.Context, key string) error
	existsFunc func(ctx context.Context, key string) (bool, error)
	keysFunc   func(ctx context.Context, prefix, pattern string) ([]string, error)
	casFunc    func(ctx context.Context, key string, oldValue, newValue []byte) (bool, error)
}

func (m *mockDriver) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, key)
	}
	return nil, ErrNotFound
}

func (m *mockDriver) Set(ctx context.Context, key string, value []byte) error {
	if m.setFunc != nil {
		return m.setFunc(ctx, key, value)
	}
	return nil
}

func (m *mockDriver) Delete(ctx context.Context, key string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, key)
	}
	return nil
}

func (m *mockDriver) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, key)
	}
	return false, nil
}

func (m *mockDriver) Keys(ctx context.Context, prefix, pattern string) ([]string, error) {
	if m.keysFunc != nil {
		return m.keysFunc(ctx, prefix, pattern)
	}
	return nil, nil
}

func (m *mockDriver) Clear(ctx context.Context, prefix string) error {
	return nil
}

func (m *mockDriver) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	return true, nil
}

func (m *mockDriver) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	if m.casFunc != nil {
		return m.casFunc(ctx, key, oldValue, newValue)
	}
	return true, nil
}

func TestNew_Defaults(t *testing.T) {
	s := New()

	if _, ok := s.driver.(*Memory); !ok {
		t.Errorf("default driver = %T, want *Memory", s.driver)
	}
	if s.codec.Name() != "json" {
		t.Errorf("default codec = %s, want json", s.codec.Name())
	}
	if s.logger != defaultLogger {
		t.Error("default logger should be the no-op logger")
	}
	if s.root != DefaultRootNamespace {
		t.Errorf("root = %q, want %q", s.root, DefaultRootNamespace)
	}
	if diff := cmp.Diff([]string{"Common"}, s.Suites()); diff != "" {
		t.Errorf("Suites() mismatch (-want +got):\n%s", diff)
	}
}

func TestWithDriver(t *testing.T) {
	mock := &mockDriver{}
	s := New(WithDriver(mock))
	if s.driver != mock {
		t.Error("WithDriver failed: expected mock driver")
	}

	s = New(WithDriver(nil))
	if _, ok := s.driver.(*Memory); !ok {
		t.Errorf("WithDriver(nil) should keep the default, got %T", s.driver)
	}
}

func TestWithCodecAndLogTag(t *testing.T) {
	logger := &mockLogger{}
	s := New(WithCodec(ProtoCodec{}), WithCodec(nil), WithLogger(logger), WithLogTag("[prefs]"))

	if s.Codec().Name() != "proto" {
		t.Errorf("codec = %s, want proto", s.Codec().Name())
	}

	s.Resolve("nope")
	if !logger.contains("[prefs] suite \"nope\"") {
		t.Errorf("expected tagged log message, got %v", logger.getMessages())
	}
}

func TestWithSuites_OrderIndependent(t *testing.T) {
	a := New(WithSuites("Billing"), WithRootNamespace("app"))
	b := New(WithRootNamespace("app"), WithSuites("Billing"))

	if a.Resolve("Billing").Prefix() != "app:Billing" {
		t.Errorf("prefix = %q, want app:Billing", a.Resolve("Billing").Prefix())
	}
	if a.Resolve("Billing").Prefix() != b.Resolve("Billing").Prefix() {
		t.Error("option order changed the partition prefix")
	}
}

func TestWithSuites_SkipsInvalid(t *testing.T) {
	logger := &mockLogger{}
	s := New(WithLogger(logger), WithSuites("", "standard", "a:b", "Valid"))

	if diff := cmp.Diff([]string{"Common", "Valid"}, s.Suites()); diff != "" {
		t.Errorf("Suites() mismatch (-want +got):\n%s", diff)
	}
	if !logger.contains("skipping suite \"a:b\"") {
		t.Errorf("expected warning for invalid suite, got %v", logger.getMessages())
	}
}

func TestRegister(t *testing.T) {
	s := New()

	tests := []struct {
		name    string
		wantErr bool
	}{
		{"Profile", false},
		{"Profile", false},
		{"", true},
		{StandardSuiteName, true},
		{"with:colon", true},
	}
	for _, tt := range tests {
		err := s.Register(tt.name)
		if tt.wantErr && !errors.Is(err, ErrInvalidSuite) {
			t.Errorf("Register(%q) = %v, want ErrInvalidSuite", tt.name, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("Register(%q) = %v, want nil", tt.name, err)
		}
	}

	if diff := cmp.Diff([]string{"Common", "Profile"}, s.Suites()); diff != "" {
		t.Errorf("Suites() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve(t *testing.T) {
	s := New(WithRootNamespace("app"), WithSuites("Billing"))

	tests := []struct {
		in         string
		wantName   string
		wantPrefix string
	}{
		{"", StandardSuiteName, "app:standard"},
		{StandardSuiteName, StandardSuiteName, "app:standard"},
		{"Common", "Common", "app:Common"},
		{"Billing", "Billing", "app:Billing"},
		{"Unregistered", StandardSuiteName, "app:standard"},
		{"bad:name", StandardSuiteName, "app:standard"},
	}
	for _, tt := range tests {
		p := s.Resolve(tt.in)
		if p.Name() != tt.wantName || p.Prefix() != tt.wantPrefix {
			t.Errorf("Resolve(%q) = (%s, %s), want (%s, %s)", tt.in, p.Name(), p.Prefix(), tt.wantName, tt.wantPrefix)
		}
	}

	if s.Resolve("Unregistered") != s.Resolve("Unregistered") {
		t.Error("unknown suite should resolve to the same partition every time")
	}
}

func TestResolve_AfterRegister(t *testing.T) {
	s := New()
	if s.Resolve("Late").Name() != StandardSuiteName {
		t.Fatal("unregistered suite should resolve to standard")
	}
	if err := s.Register("Late"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if s.Resolve("Late").Name() != "Late" {
		t.Error("registered suite should resolve to its own partition")
	}
}

func TestPartition_KeysAndClear(t *testing.T) {
	s := New(WithSuites("A", "B"))
	ctx := context.Background()
	a, b := s.Resolve("A"), s.Resolve("B")

	_ = a.Set(ctx, "x", []byte("1"))
	_ = a.Set(ctx, "y", []byte("2"))
	_ = b.Set(ctx, "x", []byte("3"))

	keys, err := a.Keys(ctx, "*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if diff := cmp.Diff([]string{"x", "y"}, keys); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if ok, _ := a.Exists(ctx, "x"); ok {
		t.Error("Clear left keys behind")
	}
	if got, err := b.Get(ctx, "x"); err != nil || string(got) != "3" {
		t.Errorf("other partition affected by Clear: %q, %v", got, err)
	}
}

func TestPartition_InvalidPattern(t *testing.T) {
	s := New()
	p := s.Resolve("")
	_ = p.Set(context.Background(), "k", []byte("v"))

	if _, err := p.Keys(context.Background(), "["); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("Keys with bad pattern = %v, want ErrInvalidPattern", err)
	}
}

func TestPartition_ByteOps(t *testing.T) {
	p := New().Resolve("Common")
	ctx := context.Background()

	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing error = %v, want ErrNotFound", err)
	}
	if ok, err := p.SetNX(ctx, "k", []byte("a")); err != nil || !ok {
		t.Errorf("SetNX on absent key = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := p.SetNX(ctx, "k", []byte("b")); err != nil || ok {
		t.Errorf("SetNX on present key = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := p.CompareAndSwap(ctx, "k", []byte("x"), []byte("c")); err != nil || ok {
		t.Errorf("CompareAndSwap with stale value = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := p.CompareAndSwap(ctx, "k", []byte("a"), []byte("c")); err != nil || !ok {
		t.Errorf("CompareAndSwap with current value = (%v, %v), want (true, nil)", ok, err)
	}
	if err := p.Set(ctx, "k", []byte("d")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, err := p.Get(ctx, "k"); err != nil || string(got) != "d" {
		t.Errorf("Get = (%q, %v), want (d, nil)", got, err)
	}
	if ok, err := p.Exists(ctx, "k"); err != nil || !ok {
		t.Errorf("Exists = (%v, %v), want (true, nil)", ok, err)
	}
	if err := p.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := p.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of a missing key failed: %v", err)
	}
	if ok, _ := p.Exists(ctx, "k"); ok {
		t.Error("Exists after Delete = true")
	}
}

func TestPartition_LogsDriverErrors(t *testing.T) {
	logger := &mockLogger{}
	boom := errors.New("boom")
	s := New(WithLogger(logger), WithDriver(&mockDriver{
		getFunc: func(ctx context.Context, key string) ([]byte, error) { return nil, boom },
		setFunc: func(ctx context.Context, key string, value []byte) error { return boom },
	}))
	p := s.Resolve("Common")
	ctx := context.Background()

	if _, err := p.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("Get error = %v, want boom", err)
	}
	if err := p.Set(ctx, "k", nil); !errors.Is(err, boom) {
		t.Errorf("Set error = %v, want boom", err)
	}
	if !logger.contains("Get Common/k failed") || !logger.contains("Set Common/k failed") {
		t.Errorf("driver errors not logged: %v", logger.getMessages())
	}
}

func TestPartition_NotFoundIsNotLogged(t *testing.T) {
	logger := &mockLogger{}
	s := New(WithLogger(logger))

	if _, err := s.Resolve("").Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
	if len(logger.getMessages()) != 0 {
		t.Errorf("ErrNotFound should not be logged, got %v", logger.getMessages())
	}
}

func TestMatchKey(t *testing.T) {
	tests := []struct {
		prefix, pattern, key string
		want                 bool
	}{
		{"app:a", "", "app:a:x", true},
		{"app:a", "*", "app:a:x", true},
		{"app:a", "x?", "app:a:x1", true},
		{"app:a", "x?", "app:a:y1", false},
		{"app:a", "", "app:ab:x", false},
		{"app:a", "", "app:a", false},
	}
	for _, tt := range tests {
		got, err := MatchKey(tt.prefix, tt.pattern, tt.key)
		if err != nil {
			t.Errorf("MatchKey(%q, %q, %q) error: %v", tt.prefix, tt.pattern, tt.key, err)
		}
		if got != tt.want {
			t.Errorf("MatchKey(%q, %q, %q) = %v, want %v", tt.prefix, tt.pattern, tt.key, got, tt.want)
		}
	}
}
