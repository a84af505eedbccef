// Package redis implements prefstore.Driver on top of a redigo connection pool.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	redigo "github.com/gomodule/redigo/redis"

	"code.byted.org/khicago/prefstore"
)

var _ prefstore.Driver = (*Driver)(nil)

const scanCount = 100

// Driver stores each prefstore key as a plain Redis string.
type Driver struct {
	pool *redigo.Pool
}

// New wraps an existing pool. The caller owns the pool and closes it.
func New(pool *redigo.Pool) *Driver {
	return &Driver{pool: pool}
}

// NewPool builds a pool dialing rawURL, e.g. "redis://localhost:6379/0".
func NewPool(rawURL string) *redigo.Pool {
	return &redigo.Pool{
		MaxIdle:     8,
		MaxActive:   64,
		IdleTimeout: 5 * time.Minute,
		Dial: func() (redigo.Conn, error) {
			return redigo.DialURL(rawURL)
		},
		TestOnBorrow: func(c redigo.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

func (d *Driver) conn(ctx context.Context) (redigo.Conn, error) {
	c, err := d.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get connection: %w", err)
	}
	return c, nil
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	c, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	value, err := redigo.Bytes(c.Do("GET", key))
	if errors.Is(err, redigo.ErrNil) {
		return nil, prefstore.ErrNotFound
	}
	return value, err
}

func (d *Driver) Set(ctx context.Context, key string, value []byte) error {
	c, err := d.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	_, err = c.Do("SET", key, value)
	return err
}

func (d *Driver) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	c, err := d.conn(ctx)
	if err != nil {
		return false, err
	}
	defer c.Close()

	reply, err := c.Do("SET", key, value, "NX")
	if err != nil {
		return false, err
	}
	return reply != nil, nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	c, err := d.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	_, err = c.Do("DEL", key)
	return err
}

func (d *Driver) Exists(ctx context.Context, key string) (bool, error) {
	c, err := d.conn(ctx)
	if err != nil {
		return false, err
	}
	defer c.Close()

	return redigo.Bool(c.Do("EXISTS", key))
}

// Keys walks the keyspace with SCAN. MATCH narrows the scan; the final
// filter is prefstore.MatchKey so results agree with the other drivers.
func (d *Driver) Keys(ctx context.Context, prefix, pattern string) ([]string, error) {
	c, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return scan(ctx, c, prefix, pattern)
}

func (d *Driver) Clear(ctx context.Context, prefix string) error {
	c, err := d.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	keys, err := scan(ctx, c, prefix, "*")
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += scanCount {
		end := start + scanCount
		if end > len(keys) {
			end = len(keys)
		}
		args := redigo.Args{}.AddFlat(keys[start:end])
		if _, err := c.Do("DEL", args...); err != nil {
			return err
		}
	}
	return nil
}

// CompareAndSwap uses WATCH/MULTI/EXEC; EXEC returns nil when the key
// changed after WATCH.
func (d *Driver) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	c, err := d.conn(ctx)
	if err != nil {
		return false, err
	}
	defer c.Close()

	if _, err := c.Do("WATCH", key); err != nil {
		return false, err
	}

	cur, err := redigo.Bytes(c.Do("GET", key))
	if errors.Is(err, redigo.ErrNil) {
		_, err = c.Do("UNWATCH")
		return false, err
	}
	if err != nil {
		return false, err
	}
	if string(cur) != string(oldValue) {
		_, err = c.Do("UNWATCH")
		return false, err
	}

	if err := c.Send("MULTI"); err != nil {
		return false, err
	}
	if err := c.Send("SET", key, newValue); err != nil {
		return false, err
	}
	reply, err := redigo.Values(c.Do("EXEC"))
	if errors.Is(err, redigo.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(reply) == 1, nil
}

func scan(ctx context.Context, c redigo.Conn, prefix, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	match := escapeGlob(prefix) + ":" + pattern

	var keys []string
	cursor := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values, err := redigo.Values(c.Do("SCAN", cursor, "MATCH", match, "COUNT", scanCount))
		if err != nil {
			return nil, err
		}
		if len(values) != 2 {
			return nil, fmt.Errorf("redis: unexpected SCAN reply of length %d", len(values))
		}
		if cursor, err = redigo.Int(values[0], nil); err != nil {
			return nil, err
		}
		batch, err := redigo.Strings(values[1], nil)
		if err != nil {
			return nil, err
		}
		for _, key := range batch {
			ok, err := prefstore.MatchKey(prefix, pattern, key)
			if err != nil {
				return nil, err
			}
			if ok {
				keys = append(keys, key)
			}
		}
		if cursor == 0 {
			sort.Strings(keys)
			return keys, nil
		}
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
