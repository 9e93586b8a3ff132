package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStringKey(t *testing.T) {
	assert.Equal(t, "a_1_b", ToStringKey("a", 1, []byte("b")))
	assert.Equal(t, "", ToStringKey(nil))
	assert.Equal(t, "18", ToStringKey(uint(18)))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "1", ToString(1))
	assert.Equal(t, "1.5", ToString(1.5))
	assert.Equal(t, "x", ToString("x"))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "a"))
	assert.False(t, Contains([]string{"a", "b"}, "c"))
	assert.False(t, Contains(nil, "a"))
}

func TestEqualKeys(t *testing.T) {
	assert.True(t, EqualKeys(1, "1"))
	assert.True(t, EqualKeys("abc", "abc"))
	assert.False(t, EqualKeys(1, 2))
	assert.False(t, EqualKeys(nil, nil), "missing keys never match")
	assert.False(t, EqualKeys(1, nil))
}

// callerSite reaches FileWithLineNum through one package-internal frame,
// the way the logger does, so the skip loop lands on this file's call site.
func callerSite() string {
	return FileWithLineNum()
}

func TestFileWithLineNum(t *testing.T) {
	got := callerSite()
	idx := strings.LastIndex(got, ":")
	require.Greater(t, idx, 0)
	assert.True(t, strings.HasSuffix(got[:idx], "utils_test.go"), got)
}
