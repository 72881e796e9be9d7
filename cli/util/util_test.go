package util

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortHash(t *testing.T) {
	assert.Equal(t, "0123456789ab", ShortHash("0123456789abcdef"))
	assert.Equal(t, "abc", ShortHash("abc"))
	assert.Equal(t, "", ShortHash(""))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "node_mo...", TruncateString("node_modules/lodash", 10))
	assert.Equal(t, "no", TruncateString("node_modules", 2))
}

func TestIsTerminal_File(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTerminal(f))
}
