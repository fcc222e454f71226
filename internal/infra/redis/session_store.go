package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-session-service/internal/domain"
)

const completedIndexKey = "trivia:sessions:completed"

// SessionStore keeps each session as a JSON document so several processes can
// share one Redis. Save is an optimistic WATCH/MULTI on the session key.
// Completed sessions are indexed in a sorted set by last update for purging.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore stores sessions with the given key TTL. Zero disables expiry.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	session.Version = 1
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(session.Code), data, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrDuplicateCode
	}
	return nil
}

func (s *SessionStore) Load(ctx context.Context, code string) (domain.Session, error) {
	raw, err := s.client.Get(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return decode(raw)
}

func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	key := s.key(session.Code)
	next := session.Clone()
	next.Version++
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		current, err := decode(raw)
		if err != nil {
			return err
		}
		if current.Version != session.Version {
			return domain.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if next.Phase == domain.PhaseCompleted {
				pipe.ZAdd(ctx, completedIndexKey, redis.Z{
					Score:  float64(next.UpdatedAt.Unix()),
					Member: next.Code,
				})
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrConflict
	}
	if err != nil {
		return err
	}
	session.Version = next.Version
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, code string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(code))
	pipe.ZRem(ctx, completedIndexKey, code)
	_, err := pipe.Exec(ctx)
	return err
}

// PurgeCompleted removes sessions indexed as completed before the cutoff.
// Keys that already expired through their TTL are only dropped from the index.
func (s *SessionStore) PurgeCompleted(ctx context.Context, before time.Time) (int, error) {
	codes, err := s.client.ZRangeByScore(ctx, completedIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", before.Unix()),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(codes) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(codes))
	members := make([]interface{}, 0, len(codes))
	for _, code := range codes {
		keys = append(keys, s.key(code))
		members = append(members, code)
	}

	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, completedIndexKey, members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(deleted.Val()), nil
}

func (s *SessionStore) key(code string) string {
	return "trivia:session:" + code
}

func decode(raw []byte) (domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}
