package callcache

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
)

// RedisMirror implements Mirror backed by Redis, letting multiple MM
// instances share sampled call caches instead of every process rebuilding
// its own table for the same PS function.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// RedisMirrorConfig holds connection settings for the mirror tier.
type RedisMirrorConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // default: "mm:callcache:"
}

// NewRedisMirror creates a Redis-backed mirror tier.
func NewRedisMirror(cfg RedisMirrorConfig) *RedisMirror {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mm:callcache:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisMirror{client: client, prefix: prefix}
}

func (m *RedisMirror) key(id string) string {
	return m.prefix + id
}

// wireCache is the serialized form of a CallPSCache's sampled table.
type wireCache struct {
	FnType   string      `json:"fn_type"`
	NOut     int         `json:"n_out"`
	Lo       float64     `json:"lo"`
	Hi       float64     `json:"hi"`
	Identity bool        `json:"identity"`
	Samples  [][]float64 `json:"samples,omitempty"`
}

func (c *CallPSCache) toWire() wireCache {
	return wireCache{
		FnType:   c.fnType,
		NOut:     c.nOut,
		Lo:       c.lo,
		Hi:       c.hi,
		Identity: c.identity,
		Samples:  c.samples,
	}
}

func (w wireCache) toCache(id string) *CallPSCache {
	c := &CallPSCache{
		id:       id,
		fnType:   w.FnType,
		nOut:     w.NOut,
		lo:       w.Lo,
		hi:       w.Hi,
		epsilon:  defaultEpsilon,
		identity: w.Identity,
		samples:  w.Samples,
	}
	c.refCount.Store(1)
	return c
}

func (m *RedisMirror) Fetch(ctx context.Context, id string) (*CallPSCache, error) {
	val, err := m.client.Get(ctx, m.key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var w wireCache
	if err := json.Unmarshal(val, &w); err != nil {
		return nil, err
	}
	return w.toCache(id), nil
}

func (m *RedisMirror) Store(ctx context.Context, c *CallPSCache) error {
	data, err := json.Marshal(c.toWire())
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key(c.id), data, 0).Err()
}

func (m *RedisMirror) Forget(ctx context.Context, id string) error {
	return m.client.Del(ctx, m.key(id)).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
