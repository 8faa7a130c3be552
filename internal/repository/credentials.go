package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/keygate/internal/model"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable wraps every backend failure, timeouts included.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrNotFound is returned by Save and Put when the record vanished since it was read.
	ErrNotFound = errors.New("credential not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("credential already exists")
)

const mgetChunk = 500

type CredentialsRepository interface {
	Create(ctx context.Context, c *model.Credential, ttl time.Duration) error
	Put(ctx context.Context, c *model.Credential, ttl time.Duration) error
	Save(ctx context.Context, c *model.Credential) error
	Get(ctx context.Context, id string) (*model.Credential, error)
	GetMany(ctx context.Context, ids []string) (found []*model.Credential, missing []string, err error)
	ListIDs(ctx context.Context) ([]string, error)
	RemoveFromIndex(ctx context.Context, ids ...string) error
	Delete(ctx context.Context, id string) (bool, error)
}

// CredentialsRepositoryImpl keeps one JSON document per credential under
// <prefix>credential:<id> and the set of all ids under <prefix>index:credentials.
type CredentialsRepositoryImpl struct {
	rdb    *redis.Client
	prefix string
}

func NewCredentialsRepository(rdb *redis.Client, prefix string) *CredentialsRepositoryImpl {
	return &CredentialsRepositoryImpl{rdb: rdb, prefix: prefix}
}

var _ CredentialsRepository = (*CredentialsRepositoryImpl)(nil)

func (r *CredentialsRepositoryImpl) RecordKey(id string) string { return r.prefix + "credential:" + id }
func (r *CredentialsRepositoryImpl) IndexKey() string           { return r.prefix + "index:credentials" }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Put overwrites an existing record, keeps it indexed and resets its TTL in one
// MULTI/EXEC. Like Save, it never recreates a record that is gone.
func (r *CredentialsRepositoryImpl) Put(ctx context.Context, c *model.Credential, ttl time.Duration) error {
	const op = "credentials.put"

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	key := r.RecordKey(c.ID)
	var set *redis.StatusCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.SetArgs(ctx, key, payload, redis.SetArgs{Mode: "XX", TTL: ttl})
		pipe.SAdd(ctx, r.IndexKey(), c.ID)
		return nil
	})
	if errors.Is(err, redis.Nil) || (set != nil && errors.Is(set.Err(), redis.Nil)) {
		// the SADD above ran regardless
		_ = r.rdb.SRem(ctx, r.IndexKey(), c.ID).Err()
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

// Create writes a record under a fresh id. The record key is WATCHed so a concurrent
// create of the same id aborts the transaction instead of overwriting.
func (r *CredentialsRepositoryImpl) Create(ctx context.Context, c *model.Credential, ttl time.Duration) error {
	const op = "credentials.create"

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	key := r.RecordKey(c.ID)
	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, r.IndexKey(), c.ID)
			pipe.Expire(ctx, key, ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrExists), errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%s: %w", op, ErrExists)
	default:
		return unavailable(op, err)
	}
}

// Save overwrites an existing record and keeps its TTL. It never recreates a
// record that has expired or been deleted in the meantime.
func (r *CredentialsRepositoryImpl) Save(ctx context.Context, c *model.Credential) error {
	const op = "credentials.save"

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	err = r.rdb.SetArgs(ctx, r.RecordKey(c.ID), payload, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

// Get returns (nil, nil) when the record does not exist.
func (r *CredentialsRepositoryImpl) Get(ctx context.Context, id string) (*model.Credential, error) {
	const op = "credentials.get"

	raw, err := r.rdb.Get(ctx, r.RecordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(op, err)
	}

	var c model.Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", op, model.KeyPrefix(id, 8), err)
	}
	return &c, nil
}

// GetMany loads records in MGET chunks. Ids without a record come back in missing,
// preserving input order.
func (r *CredentialsRepositoryImpl) GetMany(ctx context.Context, ids []string) ([]*model.Credential, []string, error) {
	const op = "credentials.get_many"

	found := make([]*model.Credential, 0, len(ids))
	var missing []string

	for start := 0; start < len(ids); start += mgetChunk {
		end := min(start+mgetChunk, len(ids))
		chunk := ids[start:end]

		keys := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = r.RecordKey(id)
		}

		vals, err := r.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, nil, unavailable(op, err)
		}

		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				missing = append(missing, chunk[i])
				continue
			}
			var c model.Credential
			if err := json.Unmarshal([]byte(s), &c); err != nil {
				return nil, nil, fmt.Errorf("%s: decode %s: %w", op, model.KeyPrefix(chunk[i], 8), err)
			}
			found = append(found, &c)
		}
	}

	return found, missing, nil
}

func (r *CredentialsRepositoryImpl) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, r.IndexKey()).Result()
	if err != nil {
		return nil, unavailable("credentials.list_ids", err)
	}
	return ids, nil
}

func (r *CredentialsRepositoryImpl) RemoveFromIndex(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := r.rdb.SRem(ctx, r.IndexKey(), members...).Err(); err != nil {
		return unavailable("credentials.remove_from_index", err)
	}
	return nil
}

// Delete removes the record and its index membership in one MULTI/EXEC and
// reports whether a record existed.
func (r *CredentialsRepositoryImpl) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.RecordKey(id))
		pipe.SRem(ctx, r.IndexKey(), id)
		return nil
	})
	if err != nil {
		return false, unavailable("credentials.delete", err)
	}
	return del.Val() > 0, nil
}
