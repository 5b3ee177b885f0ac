package snapshots

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	require.Equal(t, "audits/42/document.html", Key(42))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New("localhost:9000", "a", "b", "", false)
	require.Error(t, err)

	c, err := New("localhost:9000", "a", "b", "snapshots", false)
	require.NoError(t, err)
	require.Equal(t, "snapshots", c.bucket)
}
