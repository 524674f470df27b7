package testctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testkit/internal/isolation"
)

func TestProvider_CreateSetsCurrent(t *testing.T) {
	p := NewProvider()

	c1 := p.Create(Config{Name: "first", IsolationLevel: isolation.LevelTest})
	assert.Same(t, c1, p.Current())

	c2 := p.Create(Config{Name: "second", IsolationLevel: isolation.LevelTest})
	assert.Same(t, c2, p.Current())

	assert.Same(t, c1, p.Get(c1.ID()))
	assert.Equal(t, 2, p.Count())
}

func TestProvider_SetCurrent(t *testing.T) {
	p := NewProvider()
	c1 := p.Create(Config{Name: "first", IsolationLevel: isolation.LevelTest})
	p.Create(Config{Name: "second", IsolationLevel: isolation.LevelTest})

	require.True(t, p.SetCurrent(c1.ID()))
	assert.Same(t, c1, p.Current())

	assert.False(t, p.SetCurrent("unknown"))
	assert.Same(t, c1, p.Current(), "failed SetCurrent leaves current untouched")
}

func TestProvider_CleanupOne(t *testing.T) {
	p := NewProvider()
	c := p.Create(Config{Name: "only", IsolationLevel: isolation.LevelTest})

	cleaned := false
	c.TrackResource("document", "d1", TrackOptions{Cleanup: func(ctx context.Context) error {
		cleaned = true
		return nil
	}})

	result, ok := p.Cleanup(context.Background(), c.ID())
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.True(t, cleaned)

	assert.Nil(t, p.Get(c.ID()), "cleaned context is deregistered")
	assert.Nil(t, p.Current(), "current pointer is cleared when it matched")

	_, ok = p.Cleanup(context.Background(), c.ID())
	assert.False(t, ok, "cleanup of unknown context reports false")
}

func TestProvider_CleanupAll_IsolatesFailures(t *testing.T) {
	p := NewProvider()

	fast := Config{IsolationLevel: isolation.LevelTest, CleanupMaxRetries: 1, CleanupRetryDelay: time.Millisecond}

	fast.Name = "good"
	good := p.Create(fast)
	fast.Name = "bad"
	bad := p.Create(fast)
	fast.Name = "also"
	also := p.Create(fast)

	var cleanedIDs []string
	okFn := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			cleanedIDs = append(cleanedIDs, name)
			return nil
		}
	}

	good.TrackResource("document", "d1", TrackOptions{Cleanup: okFn("good")})
	bad.TrackResource("document", "d2", TrackOptions{Cleanup: func(ctx context.Context) error {
		return errors.New("unrecoverable")
	}})
	also.TrackResource("document", "d3", TrackOptions{Cleanup: okFn("also")})

	results := p.CleanupAll(context.Background())

	require.Len(t, results, 3)
	assert.True(t, results[good.ID()].Success)
	assert.False(t, results[bad.ID()].Success)
	assert.True(t, results[also.ID()].Success, "a failing context must not block the rest")
	assert.ElementsMatch(t, []string{"good", "also"}, cleanedIDs)

	assert.Zero(t, p.Count(), "registry is cleared after bulk cleanup")
	assert.Nil(t, p.Current())
}

func TestProvider_Reset(t *testing.T) {
	p := NewProvider()
	c := p.Create(Config{Name: "t", IsolationLevel: isolation.LevelTest})

	ran := false
	c.TrackResource("document", "d1", TrackOptions{Cleanup: func(ctx context.Context) error {
		ran = true
		return nil
	}})

	p.Reset()

	assert.Zero(t, p.Count())
	assert.Nil(t, p.Current())
	assert.False(t, ran, "reset must not run cleanups")
}

func TestProvider_ListKeepsRegistrationOrder(t *testing.T) {
	p := NewProvider()
	a := p.Create(Config{Name: "a", IsolationLevel: isolation.LevelTest})
	b := p.Create(Config{Name: "b", IsolationLevel: isolation.LevelTest})
	c := p.Create(Config{Name: "c", IsolationLevel: isolation.LevelTest})

	list := p.List()
	require.Len(t, list, 3)
	assert.Same(t, a, list[0])
	assert.Same(t, b, list[1])
	assert.Same(t, c, list[2])
}
