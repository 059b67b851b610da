package sandbox

import (
	"context"
	"testing"
	"time"
)

func TestBoxPoolAcquireReleaseCycle(t *testing.T) {
	pool := NewBoxPool(2)
	ctx := context.Background()

	a, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	b, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct box ids, got %d twice", a)
	}

	pool.Release(a)
	c, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if c != a {
		t.Fatalf("expected released id %d to be reused, got %d", a, c)
	}
}

func TestBoxPoolAcquireBlocksOnExhaustion(t *testing.T) {
	pool := NewBoxPool(1)
	ctx := context.Background()

	if _, err := pool.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(cctx); err == nil {
		t.Fatal("expected Acquire to block and time out on an exhausted pool")
	}
}

func TestBoxPoolCapacityCappedAtBoxSpace(t *testing.T) {
	pool := NewBoxPool(boxSpace + 500)
	if cap(pool.ids) != boxSpace {
		t.Fatalf("expected capacity capped at %d, got %d", boxSpace, cap(pool.ids))
	}
}

func TestBoxPoolDefaultCapacity(t *testing.T) {
	pool := NewBoxPool(0)
	if cap(pool.ids) != 64 {
		t.Fatalf("expected default capacity 64, got %d", cap(pool.ids))
	}
}
