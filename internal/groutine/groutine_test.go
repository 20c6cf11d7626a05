package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesGoroutine(t *testing.T) {
	names := make(chan string, 1)
	gids := make(chan uint64, 1)

	done := Go(context.Background(), "worker-1", func(ctx context.Context) {
		names <- GetName(ctx)
		gids <- GetGID()
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine MUST finish")
	}

	assert.Equal(t, "worker-1", <-names)
	gid := <-gids
	require.NotZero(t, gid)
	assert.NotEqual(t, GetGID(), gid, "spawned goroutine MUST have its own ID")
}

func TestGo_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is explicitly supported
	done := Go(nil, "nil-ctx", func(ctx context.Context) {
		assert.NotNil(t, ctx)
	})
	<-done
}

func TestGetName_Missing(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	//nolint:staticcheck // nil context is explicitly supported
	assert.Empty(t, GetName(nil))
}

func TestGetGID_Stable(t *testing.T) {
	assert.Equal(t, GetGID(), GetGID())
}
