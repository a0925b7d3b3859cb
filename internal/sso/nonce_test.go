package sso

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryNonceStoreSingleUse(t *testing.T) {
	store := NewMemoryNonceStore()
	ctx := context.Background()

	first, err := store.Consume(ctx, "n1", time.Minute)
	if err != nil || !first {
		t.Fatalf("first consume: got (%v, %v), want (true, nil)", first, err)
	}
	second, err := store.Consume(ctx, "n1", time.Minute)
	if err != nil || second {
		t.Fatalf("second consume: got (%v, %v), want (false, nil)", second, err)
	}
	other, err := store.Consume(ctx, "n2", time.Minute)
	if err != nil || !other {
		t.Fatalf("distinct nonce: got (%v, %v), want (true, nil)", other, err)
	}
}

func TestMemoryNonceStoreExpiry(t *testing.T) {
	store := NewMemoryNonceStore()
	current := time.Now()
	store.now = func() time.Time { return current }
	ctx := context.Background()

	if ok, _ := store.Consume(ctx, "n1", time.Minute); !ok {
		t.Fatal("first consume must succeed")
	}
	current = current.Add(2 * time.Minute)
	if ok, _ := store.Consume(ctx, "n1", time.Minute); !ok {
		t.Fatal("expired entry must be reusable")
	}
	if len(store.used) != 1 {
		t.Fatalf("expired entries must be pruned, %d left", len(store.used))
	}
}

func TestRedisNonceStoreSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisNonceStore(client)
	ctx := context.Background()

	first, err := store.Consume(ctx, "n1", time.Minute)
	if err != nil || !first {
		t.Fatalf("first consume: got (%v, %v), want (true, nil)", first, err)
	}
	second, err := store.Consume(ctx, "n1", time.Minute)
	if err != nil || second {
		t.Fatalf("second consume: got (%v, %v), want (false, nil)", second, err)
	}

	mr.FastForward(2 * time.Minute)
	again, err := store.Consume(ctx, "n1", time.Minute)
	if err != nil || !again {
		t.Fatalf("consume after expiry: got (%v, %v), want (true, nil)", again, err)
	}
}
