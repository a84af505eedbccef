// Package gorm implements prefstore.Driver on a SQL table through gorm.
package gorm

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"code.byted.org/khicago/prefstore"
)

var _ prefstore.Driver = (*Driver)(nil)

// Entry is one stored setting.
type Entry struct {
	Key       string    `gorm:"column:key;primaryKey;size:512"`
	Value     []byte    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Entry) TableName() string {
	return "settings_entries"
}

// Driver stores prefstore keys as rows of settings_entries.
type Driver struct {
	db *gorm.DB
}

// New migrates the settings table and returns a Driver using db.
func New(db *gorm.DB) (*Driver, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Driver{db: db}, nil
}

func byKey(key string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	e := Entry{}
	err := d.db.WithContext(ctx).Where(byKey(key)).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, prefstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (d *Driver) Set(ctx context.Context, key string, value []byte) error {
	// update the value if the key exists or create a new row
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Entry{Key: key, Value: value, UpdatedAt: time.Now()}).Error
}

func (d *Driver) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Entry{Key: key, Value: value, UpdatedAt: time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	return d.db.WithContext(ctx).Where(byKey(key)).Delete(&Entry{}).Error
}

func (d *Driver) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&Entry{}).Where(byKey(key)).Count(&n).Error
	return n > 0, err
}

// Keys selects candidates with LIKE and filters them with prefstore.MatchKey,
// since LIKE wildcards in the prefix are not escaped.
func (d *Driver) Keys(ctx context.Context, prefix, pattern string) ([]string, error) {
	var candidates []string
	err := d.db.WithContext(ctx).Model(&Entry{}).
		Where(clause.Like{Column: clause.Column{Name: "key"}, Value: prefix + ":%"}).
		Pluck("key", &candidates).Error
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(candidates))
	for _, key := range candidates {
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
	keys, err := d.Keys(ctx, prefix, "*")
	if err != nil || len(keys) == 0 {
		return err
	}

	values := make([]interface{}, len(keys))
	for i, k := range keys {
		values[i] = k
	}
	return d.db.WithContext(ctx).
		Where(clause.IN{Column: clause.Column{Name: "key"}, Values: values}).
		Delete(&Entry{}).Error
}

func (d *Driver) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte) (bool, error) {
	res := d.db.WithContext(ctx).Model(&Entry{}).
		Where(byKey(key)).
		Where(clause.Eq{Column: clause.Column{Name: "value"}, Value: oldValue}).
		Updates(map[string]interface{}{"value": newValue, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
