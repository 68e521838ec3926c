package fwdproxy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseTemplates(t *testing.T) {
	require.True(t, strings.HasPrefix(string(response403), "HTTP/1.1 403"))
	require.True(t, strings.HasPrefix(string(response404), "HTTP/1.1 404"))
	require.True(t, strings.HasSuffix(string(response403), "\r\n\r\n"))
	require.True(t, strings.HasSuffix(string(response404), "\r\n\r\n"))
}
