package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstOf(t *testing.T) {
	ctx := context.Background()
	failing := Tier[int]{Name: "primary", Read: func(context.Context) (int, error) { return 0, errors.New("down") }}
	ok := Value("fallback", 7)

	v, name, err := FirstOf(ctx, failing, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, "fallback", name)
	assert.EqualError(t, err, "down")

	v, name, err = FirstOf(ctx, ok, failing)
	assert.Equal(t, 7, v)
	assert.Equal(t, "fallback", name)
	assert.NoError(t, err)

	_, name, err = FirstOf(ctx, failing)
	assert.Empty(t, name)
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	calls := 0
	tier := Func("memory", func() string { calls++; return "v" })

	v, name, err := FirstOf(context.Background(), tier)
	assert.Equal(t, "v", v)
	assert.Equal(t, "memory", name)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}
