package writerlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestAcquire_UnreachableRedis(t *testing.T) {
	client := unreachable()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lease, err := Acquire(ctx, client, "ledger:test", time.Second, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for unreachable redis")
	}
	if lease != nil {
		t.Error("expected no lease")
	}
	if errors.Is(err, ErrHeld) {
		t.Errorf("connection failure reported as held lease: %v", err)
	}
}
