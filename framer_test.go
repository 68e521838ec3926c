package fwdproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsHTTPMethod(t *testing.T) {
	cases := []struct {
		name string
		buf  string
		want bool
	}{
		{"get", "GET / HTTP/1.1\r\n", true},
		{"post", "POST /x HTTP/1.1\r\n", true},
		{"lowercase not recognized", "get / HTTP/1.1\r\n", false},
		{"no space after method", "GETX HTTP/1.1\r\n", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isHTTPMethod([]byte(tc.buf)))
		})
	}
}

func TestIsHTTPRequestCompleteRequiresHost(t *testing.T) {
	noHost := "GET / HTTP/1.1\r\n\r\n"
	require.False(t, isHTTPRequestComplete([]byte(noHost)))

	withHost := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	require.True(t, isHTTPRequestComplete([]byte(withHost)))
}

func TestIsHTTPRequestCompleteNeedsTerminator(t *testing.T) {
	partial := "GET / HTTP/1.1\r\nHost: example.com\r\n"
	require.False(t, isHTTPRequestComplete([]byte(partial)))
}

func TestIsHTTPRequestCompleteRejectsLongRequestLine(t *testing.T) {
	longTarget := make([]byte, maxRequestLineLen+10)
	for i := range longTarget {
		longTarget[i] = 'a'
	}
	req := "GET /" + string(longTarget) + " HTTP/1.1\r\nHost: example.com\r\n\r\n"
	require.False(t, isHTTPRequestComplete([]byte(req)))
}

func TestGetHTTPHost(t *testing.T) {
	req := "GET /path HTTP/1.1\r\nHost: example.com:8080\r\nUser-Agent: x\r\n\r\n"
	host, target, ok := getHTTPHost([]byte(req))
	require.True(t, ok)
	require.Equal(t, "example.com:8080", host)
	require.Equal(t, "/path", target)
}

func TestGetHTTPHostMissing(t *testing.T) {
	req := "GET /path HTTP/1.1\r\nUser-Agent: x\r\n\r\n"
	_, _, ok := getHTTPHost([]byte(req))
	require.False(t, ok)
}
