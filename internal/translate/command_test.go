package translate

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("exec-based translator tests need a unix shell environment")
	}
}

func TestNewCommandBlank(t *testing.T) {
	assert.Nil(t, NewCommand("   "))
}

func TestCommandPassesTextThrough(t *testing.T) {
	requireUnix(t)

	c := NewCommand("cat")
	out, err := c.Translate(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestCommandEmptyOutput(t *testing.T) {
	requireUnix(t)

	c := NewCommand("true")
	_, err := c.Translate(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoTranslation)
}

func TestCommandMissingBinary(t *testing.T) {
	c := NewCommand("definitely-not-a-real-binary-xyz")
	_, err := c.Translate(context.Background(), "hello")
	require.Error(t, err)
}

func TestCommandBoundedTimeout(t *testing.T) {
	requireUnix(t)

	b := NewBounded(NewCommand("sleep 5"), 50*time.Millisecond)
	_, err := b.Translate(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoTranslation)
}
