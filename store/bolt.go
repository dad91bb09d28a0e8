package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/adamwoolhether/forge/auth"
)

var credentialsBucket = []byte("credentials")

// Bolt persists credentials in a single bbolt file. The file is locked for
// the lifetime of the store, so only one process may hold it open.
type Bolt struct {
	db *bbolt.DB
}

// NewBolt opens, or creates, the database at path.
func NewBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating credentials bucket: %w", err), db.Close())
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) LoadAuth(ctx context.Context) (*auth.Record, error) {
	data, err := b.get(ctx, keyAuth)
	if err != nil {
		return nil, err
	}
	return decode[auth.Record](data)
}

func (b *Bolt) SaveAuth(ctx context.Context, rec *auth.Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return b.put(ctx, keyAuth, data)
}

func (b *Bolt) LoadIdentity(ctx context.Context) (string, error) {
	data, err := b.get(ctx, keyIdentity)
	return string(data), err
}

func (b *Bolt) SaveIdentity(ctx context.Context, identity string) error {
	return b.put(ctx, keyIdentity, []byte(identity))
}

func (b *Bolt) LoadProfile(ctx context.Context) (*auth.Profile, error) {
	data, err := b.get(ctx, keyProfile)
	if err != nil {
		return nil, err
	}
	return decode[auth.Profile](data)
}

func (b *Bolt) SaveProfile(ctx context.Context, p *auth.Profile) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	return b.put(ctx, keyProfile, data)
}

// Close releases the file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		// Values are only valid for the life of the transaction.
		if v := tx.Bucket(credentialsBucket).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	return data, nil
}

func (b *Bolt) put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(credentialsBucket)
		if len(data) == 0 {
			return bkt.Delete([]byte(key))
		}
		return bkt.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}

	return nil
}
