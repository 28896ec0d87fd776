package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/sma-enrollment-api/pkg/cache"
)

// SequenceRepository issues monotonically increasing codes from Redis counters.
type SequenceRepository struct {
	client redis.Cmdable
}

// NewSequenceRepository constructs a SequenceRepository.
func NewSequenceRepository(client redis.Cmdable) *SequenceRepository {
	return &SequenceRepository{client: client}
}

// Next increments the tenant's counter for prefix and returns the formatted code, e.g. STU0001.
func (r *SequenceRepository) Next(ctx context.Context, tenantID, prefix string) (string, error) {
	n, err := r.client.Incr(ctx, cache.Key(tenantID, "seq", prefix)).Result()
	if err != nil {
		return "", fmt.Errorf("next sequence %s: %w", prefix, err)
	}
	return FormatSequence(prefix, n), nil
}

// FormatSequence pads n to at least four digits after prefix.
func FormatSequence(prefix string, n int64) string {
	return fmt.Sprintf("%s%04d", prefix, n)
}
