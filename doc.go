// Package prefstore provides typed, namespaced persisted settings over a
// pluggable byte-level key-value backend.
//
// # Overview
//
// A Slot declares one setting: a key, the suite (partition) it lives in,
// and a default value. A Store connects slots to a Driver and a Codec.
// Keys are stored as "root:suite:key", so suites never collide.
//
// # Quick Start
//
//	var RetryCount = prefstore.NewSlot("retry_count", 0, prefstore.InSuite(prefstore.Common))
//	var Nickname = prefstore.NewOptionalSlot[string]("nickname")
//
//	store := prefstore.New()
//	ctx := context.Background()
//
//	RetryCount.Get(ctx, store) // 0
//	RetryCount.Set(ctx, store, 5)
//	RetryCount.Get(ctx, store) // 5
//	Nickname.Get(ctx, store)   // nil
//
// # Failure Semantics
//
// Get and Set have no error result. Missing values, bytes that do not decode
// into the slot type and driver failures all read as the slot default;
// values that cannot be encoded are not written. Failures are reported to
// the configured Logger only.
//
// # Suites
//
// A suite must be registered (WithSuites or Store.Register) to get its own
// partition. Slots naming an unknown suite use the standard partition.
// Common is registered by every Store.
//
// # Drivers
//
// NewMemory is the default driver. The drivers/file, drivers/redis and
// drivers/gorm packages persist to a TOML file, Redis and SQL databases.
// The config package builds a Store from PREFSTORE_* environment variables.
//
// # Concurrency
//
// Get and Set touch a single key and take no locks of their own.
// Read-modify-write sequences should use Slot.Update, which retries a
// compare-and-swap on the driver.
package prefstore
