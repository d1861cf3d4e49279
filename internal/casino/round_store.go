package casino

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoundStore holds in-progress mines rounds until they settle or expire.
type RoundStore interface {
	Save(ctx context.Context, round *MinesRound) error
	Get(ctx context.Context, roundID string) (*MinesRound, error)
	Delete(ctx context.Context, roundID string) error
}

// RedisRoundStore keeps each round as a JSON string that expires with the round.
type RedisRoundStore struct {
	rdb *redis.Client
}

func NewRedisRoundStore(rdb *redis.Client) *RedisRoundStore {
	return &RedisRoundStore{rdb: rdb}
}

func roundKey(roundID string) string {
	return fmt.Sprintf("mines_round:%s", roundID)
}

func (s *RedisRoundStore) Save(ctx context.Context, round *MinesRound) error {
	ttl := time.Until(round.ExpiresAt)
	if ttl <= 0 {
		return ErrRoundNotFound
	}
	data, err := json.Marshal(round)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, roundKey(round.RoundID), data, ttl).Err()
}

func (s *RedisRoundStore) Get(ctx context.Context, roundID string) (*MinesRound, error) {
	data, err := s.rdb.Get(ctx, roundKey(roundID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to load mines round: %w", err)
	}
	var round MinesRound
	if err := json.Unmarshal(data, &round); err != nil {
		return nil, fmt.Errorf("failed to decode mines round: %w", err)
	}
	return &round, nil
}

func (s *RedisRoundStore) Delete(ctx context.Context, roundID string) error {
	return s.rdb.Del(ctx, roundKey(roundID)).Err()
}

// MemoryRoundStore is a process-local RoundStore for single-node runs and tests.
type MemoryRoundStore struct {
	mu     sync.Mutex
	rounds map[string]MinesRound
	now    func() time.Time
}

func NewMemoryRoundStore() *MemoryRoundStore {
	return &MemoryRoundStore{rounds: make(map[string]MinesRound), now: time.Now}
}

func (s *MemoryRoundStore) Save(_ context.Context, round *MinesRound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	if !s.now().Before(round.ExpiresAt) {
		return ErrRoundNotFound
	}
	s.rounds[round.RoundID] = round.clone()
	return nil
}

func (s *MemoryRoundStore) Get(_ context.Context, roundID string) (*MinesRound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.rounds[roundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	if !s.now().Before(round.ExpiresAt) {
		delete(s.rounds, roundID)
		return nil, ErrRoundNotFound
	}
	c := round.clone()
	return &c, nil
}

func (s *MemoryRoundStore) Delete(_ context.Context, roundID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rounds, roundID)
	return nil
}

// Len reports how many unexpired rounds are held.
func (s *MemoryRoundStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.rounds)
}

// sweep drops expired rounds; callers hold mu.
func (s *MemoryRoundStore) sweep() {
	now := s.now()
	for id, r := range s.rounds {
		if !now.Before(r.ExpiresAt) {
			delete(s.rounds, id)
		}
	}
}
