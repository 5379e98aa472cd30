package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"tempmailproxy/internal/domain"
)

// GetStats reads every counter in a single pipeline. Missing keys count as 0.
func (s *Store) GetStats(ctx context.Context) (*domain.Stats, error) {
	pipe := s.client.Pipeline()
	provisioned := pipe.Get(ctx, KeyProvisioned)
	conflicts := pipe.Get(ctx, KeyConflicts)
	failures := pipe.Get(ctx, KeyFailures)
	domains := pipe.HGetAll(ctx, KeyDomains)
	byCode := pipe.HGetAll(ctx, KeyFailuresByCode)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	stats := &domain.Stats{}
	var err error
	if stats.Provisioned, err = counter(provisioned); err != nil {
		return nil, err
	}
	if stats.Conflicts, err = counter(conflicts); err != nil {
		return nil, err
	}
	if stats.Failures, err = counter(failures); err != nil {
		return nil, err
	}
	for _, cmd := range []*redis.MapStringStringCmd{domains, byCode} {
		if err := cmd.Err(); err != nil {
			return nil, err
		}
	}
	if stats.Domains, err = parseCounts(domains.Val()); err != nil {
		return nil, err
	}
	if stats.FailuresByStatus, err = parseCounts(byCode.Val()); err != nil {
		return nil, err
	}
	return stats, nil
}

func counter(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", cmd.Args()[1], err)
	}
	return n, nil
}

// parseCounts converts an HGETALL reply into integer counts.
func parseCounts(raw map[string]string) (map[string]int64, error) {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
