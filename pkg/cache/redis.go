package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/sma-enrollment-api/pkg/config"
)

const keyNamespace = "enrollment"

// NewRedis returns a configured Redis client after verifying connectivity.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return client, nil
}

// Key joins parts under the service namespace, scoped by tenant.
// Empty parts are skipped.
func Key(tenantID string, parts ...string) string {
	segments := make([]string, 0, len(parts)+2)
	segments = append(segments, keyNamespace, tenantID)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, ":")
}
