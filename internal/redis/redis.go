package redis

import (
	"context"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Attempts bounds the ping retries; zero means 5.
	Attempts int
	// Backoff is the first retry delay, doubled after each attempt.
	Backoff time.Duration
}

func (cfg Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// Connect opens a client and pings it until the server answers or the
// attempts run out. The client is closed on failure.
func Connect(ctx context.Context, cfg Config) (*redislib.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("redis host is empty")
	}

	client := redislib.NewClient(&redislib.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 5
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()

		if err == nil {
			return client, nil
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("redis %s unreachable after %d attempts: %w", cfg.Addr(), attempts, err)
}
