package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/nexus-tt/nexus/internal/port/cache/cachetest"
)

func TestCacheSuite(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	cachetest.Run(t, c)
}

func TestGetReturnsCopy(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("abc"), time.Minute)
	v, _, _ := c.Get(ctx, "k")
	v[0] = 'z'

	again, _, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("cached value mutated through Get result: %q", again)
	}
}
