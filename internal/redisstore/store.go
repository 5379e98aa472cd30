package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Counter keys. Only aggregate numbers are kept; no address, password, token
// or message ever reaches Redis.
const (
	KeyProvisioned    = "stats:provisioned"
	KeyConflicts      = "stats:conflicts"
	KeyFailures       = "stats:failures"
	KeyDomains        = "stats:domains"
	KeyFailuresByCode = "stats:failure_status"
)

type Store struct {
	client *redis.Client
}

func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reports whether Redis answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) RecordProvisioned(ctx context.Context, emailDomain string) error {
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, KeyProvisioned)
	pipe.HIncrBy(ctx, KeyDomains, emailDomain, 1)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) RecordConflict(ctx context.Context, _ string) error {
	return s.client.Incr(ctx, KeyConflicts).Err()
}

func (s *Store) RecordFailure(ctx context.Context, status int) error {
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, KeyFailures)
	pipe.HIncrBy(ctx, KeyFailuresByCode, strconv.Itoa(status), 1)
	_, err := pipe.Exec(ctx)
	return err
}
