// Package redisstore backs relay/store.Store with Redis, klaytn's
// go-redis/redis dependency (klaytn's go.mod pins go-redis/redis/v7,
// exercised at node/sc scale for peer/event plumbing). Values are JSON
// encoded, the same representation klaytn uses for its own
// BridgeJournal ("json:localAddress" struct tags in node/sc/bridge_manager.go).
package redisstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v7"

	"github.com/klaytn/relayer/relay"
	"github.com/klaytn/relayer/relay/log"
	"github.com/klaytn/relayer/relay/store"
)

var logger = log.NewModuleLogger(log.Store, 0)

// versionSuffix stores the CAS version alongside the value, in its own
// key, so Get can return both without a second round trip being required
// for the common case of a plain read.
const versionSuffix = ":version"

// RedisStore implements store.Store against a single redis.Client.
type RedisStore struct {
	client *redis.Client
}

// New dials addr and returns a ready RedisStore.
func New(addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping().Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(_ context.Context, key string) (*relay.RelayState, uint64, error) {
	raw, err := s.client.Get(key).Bytes()
	if err == redis.Nil {
		return nil, 0, store.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	version, err := s.client.Get(key + versionSuffix).Uint64()
	if err != nil && err != redis.Nil {
		return nil, 0, err
	}

	var value relay.RelayState
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, 0, err
	}
	value.Version = version
	return &value, version, nil
}

// SetIfVersion performs an optimistic compare-and-set using WATCH/MULTI/EXEC,
// the Redis idiom for the read-modify-write compare-and-set requires in place
// of a cross-key transaction.
func (s *RedisStore) SetIfVersion(_ context.Context, key string, expectedVersion uint64, value *relay.RelayState) (uint64, error) {
	versionKey := key + versionSuffix
	newVersion := expectedVersion + 1

	txf := func(tx *redis.Tx) error {
		var current uint64
		v, err := tx.Get(versionKey).Uint64()
		switch {
		case err == redis.Nil:
			current = 0
		case err != nil:
			return err
		default:
			current = v
		}

		if current != expectedVersion {
			return store.ErrVersionConflict
		}

		cp := *value
		cp.Version = newVersion
		payload, err := json.Marshal(cp)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(func(pipe redis.Pipeliner) error {
			pipe.Set(key, payload, 0)
			pipe.Set(versionKey, newVersion, 0)
			return nil
		})
		return err
	}

	if err := s.client.Watch(txf, versionKey); err != nil {
		// TxFailedErr: the watched version key changed between WATCH and EXEC.
		if err == store.ErrVersionConflict || err == redis.TxFailedErr {
			return 0, store.ErrVersionConflict
		}
		logger.Error("store CAS failed", "key", key, "err", err)
		return 0, err
	}

	s.client.Publish("relay:events:"+key, "updated")
	return newVersion, nil
}

func (s *RedisStore) Push(_ context.Context, queueKey string, id relay.MessageID) error {
	return s.client.RPush(queueKey, id[:]).Err()
}

func (s *RedisStore) PopN(_ context.Context, queueKey string, n int) ([]relay.MessageID, error) {
	var out []relay.MessageID
	for i := 0; i < n; i++ {
		raw, err := s.client.LPop(queueKey).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, err
		}
		var id relay.MessageID
		copy(id[:], raw)
		out = append(out, id)
	}
	return out, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, pattern string) (<-chan string, error) {
	psub := s.client.PSubscribe("relay:events:" + pattern)
	out := make(chan string, 64)

	go func() {
		defer close(out)
		defer psub.Close()
		ch := psub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- strings.TrimPrefix(msg.Channel, "relay:events:"):
				default:
				}
			}
		}
	}()

	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
