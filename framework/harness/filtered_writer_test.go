package harness

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilteredWriterPrefixesWholeLines(t *testing.T) {
	var out bytes.Buffer
	w := newFilteredWriter(&out, "[service] ", nil)

	n, err := w.Write([]byte("listening on "))
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Empty(t, out.String())

	_, err = w.Write([]byte("3000\nGET /ping\npartial"))
	require.NoError(t, err)
	assert.Equal(t, "[service] listening on 3000\n[service] GET /ping\n", out.String())

	require.NoError(t, w.Flush())
	assert.Equal(t, "[service] listening on 3000\n[service] GET /ping\n[service] partial\n", out.String())

	require.NoError(t, w.Flush())
	assert.Equal(t, "[service] listening on 3000\n[service] GET /ping\n[service] partial\n", out.String())
}

func TestFilteredWriterDropsExcludedLines(t *testing.T) {
	var out bytes.Buffer
	w := newFilteredWriter(&out, "", []*regexp.Regexp{regexp.MustCompile(`^GET /ping`)})

	_, err := w.Write([]byte("GET /ping\nGET /data\nGET /ping 200\n"))
	require.NoError(t, err)
	assert.Equal(t, "GET /data\n", out.String())
}
