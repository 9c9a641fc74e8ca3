package groutine_test

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/pulsectl/internal/groutine"
)

func TestGoNamesGoroutine(t *testing.T) {
	type result struct {
		name  string
		label string
	}
	done := make(chan result, 1)

	groutine.Go(context.Background(), "worker-42", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		done <- result{name: groutine.Name(ctx), label: label}
	})

	r := <-done
	assert.Equal(t, "worker-42", r.name)
	assert.Equal(t, "worker-42", r.label)
}

func TestNameWithoutGo(t *testing.T) {
	assert.Empty(t, groutine.Name(context.Background()))
	assert.Empty(t, groutine.Name(nil)) //nolint:staticcheck // nil context is handled
}

func TestGoNilParent(t *testing.T) {
	done := make(chan string, 1)
	groutine.Go(nil, "nil-parent", func(ctx context.Context) { //nolint:staticcheck // nil parent is handled
		done <- groutine.Name(ctx)
	})
	assert.Equal(t, "nil-parent", <-done)
}
