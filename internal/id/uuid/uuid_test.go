package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueV7(t *testing.T) {
	t.Parallel()

	id1, id2 := New(), New()
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestNewIsTimeOrdered(t *testing.T) {
	t.Parallel()

	prev := New()
	for range 100 {
		next := New()
		require.Less(t, prev, next)
		prev = next
	}
}
