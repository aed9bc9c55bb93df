// Package kv provides the Redis-backed key/value plane used for run caches,
// monitor snapshots and distributed scheduler locks.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"arise-trading-engine/config"
)

// ErrUnavailable is returned while the circuit breaker is open. Callers
// treat it as a cache miss and fall back to the database or recompute.
var ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")

// ErrNotFound is returned on a clean cache miss.
var ErrNotFound = errors.New("key not found")

// Store wraps a Redis client with graceful degradation. When Redis is down
// every operation fails fast until a background ping succeeds.
type Store struct {
	client       *redis.Client
	log          zerolog.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration

	disabled bool
}

// NewStore connects to Redis. A failed initial ping returns the store in
// degraded mode rather than an error so the process can start without Redis.
func NewStore(cfg config.RedisConfig, log zerolog.Logger) *Store {
	logger := log.With().Str("component", "kv").Logger()
	if !cfg.Enabled {
		logger.Warn().Msg("redis disabled, scheduler locks and run caches are bypassed")
		return &Store{disabled: true, log: logger}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Store{
		client:        client,
		log:           logger,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("initial redis connection failed, starting degraded")
		return s
	}

	s.healthy = true
	s.lastCheck = time.Now()
	logger.Info().Str("addr", cfg.Address).Msg("redis connected")
	return s
}

// Disabled reports whether the store was built with Redis turned off.
// Lock acquisition always succeeds on a disabled store.
func (s *Store) Disabled() bool { return s.disabled }

// IsHealthy reports whether Redis is currently usable.
func (s *Store) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Store) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= s.maxFailures {
		if s.healthy {
			s.log.Warn().Int("failures", s.failureCount).Msg("circuit breaker open, redis marked unhealthy")
		}
		s.healthy = false
	}
}

func (s *Store) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		s.log.Info().Msg("circuit breaker closed, redis recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

func (s *Store) checkHealth() {
	s.mu.RLock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	s.mu.RUnlock()
	if !shouldCheck {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Ping(ctx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

// SetJSON marshals value and stores it under key with the given TTL.
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s.disabled {
		return nil
	}
	s.checkHealth()
	if !s.IsHealthy() {
		return ErrUnavailable
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error marshaling %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis set %s failed: %w", key, err)
	}
	s.recordSuccess()
	return nil
}

// GetJSON loads key and unmarshals it into dest. Returns ErrNotFound on a
// clean miss and ErrUnavailable while degraded.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	if s.disabled {
		return ErrNotFound
	}
	s.checkHealth()
	if !s.IsHealthy() {
		return ErrUnavailable
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		s.recordFailure()
		return fmt.Errorf("redis get %s failed: %w", key, err)
	}
	s.recordSuccess()
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("error unmarshaling %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.disabled {
		return nil
	}
	s.checkHealth()
	if !s.IsHealthy() {
		return ErrUnavailable
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis del %s failed: %w", key, err)
	}
	s.recordSuccess()
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if s.disabled || s.client == nil {
		return nil
	}
	return s.client.Close()
}
