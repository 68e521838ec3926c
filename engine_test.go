package fwdproxy

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startUpstream starts a tiny HTTP/1.1 server that replies 200 OK to
// any request and returns its listening port.
func startUpstream(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				conn.Read(buf)
				conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
			}()
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func startEngine(t *testing.T, rules *RuleSet) *Engine {
	t.Helper()
	eng, err := NewEngine(Config{Address: "127.0.0.1", Port: 0, MaxClients: 8}, rules, NewResolverCache(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return eng
}

func TestEngineRelaysToAllowedUpstream(t *testing.T) {
	upstreamPort := startUpstream(t)
	eng := startEngine(t, &RuleSet{})

	_, proxyPort := eng.Addr()
	// give the loop goroutine a moment to enter poll()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(proxyPort))
	require.NoError(t, err)
	defer conn.Close()

	req := "GET / HTTP/1.1\r\nHost: 127.0.0.1:" + strconv.Itoa(upstreamPort) + "\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	status, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(status, "HTTP/1.1 200"))
}

func TestEngineRefusesDeniedHost(t *testing.T) {
	rules, err := parseRules(strings.NewReader("[bad]\nBAN_DOMAIN denied.example\n"))
	require.NoError(t, err)
	eng := startEngine(t, rules)

	_, proxyPort := eng.Addr()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(proxyPort))
	require.NoError(t, err)
	defer conn.Close()

	req := "GET / HTTP/1.1\r\nHost: denied.example\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	status, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(status, "HTTP/1.1 403"))
}

// TestEngineWaitsForRequestSplitMidMethod writes a request across two
// conn.Write calls, splitting the very first write inside the method
// token ("GE" then "T / HTTP/1.1..."). The first chunk leaves
// isHTTPMethod unable to recognize anything yet; the proxy must keep
// waiting for more bytes rather than treating the partial read as a
// malformed request, and still complete the relay once the rest
// arrives.
func TestEngineWaitsForRequestSplitMidMethod(t *testing.T) {
	upstreamPort := startUpstream(t)
	eng := startEngine(t, &RuleSet{})

	_, proxyPort := eng.Addr()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(proxyPort))
	require.NoError(t, err)
	defer conn.Close()

	req := "GET / HTTP/1.1\r\nHost: 127.0.0.1:" + strconv.Itoa(upstreamPort) + "\r\n\r\n"
	_, err = conn.Write([]byte(req[:2]))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = conn.Write([]byte(req[2:]))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	status, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(status, "HTTP/1.1 200"))
}

// TestEngineOverflowClosesWithNoResponseBody sends a request larger
// than the request buffer budget with no terminating CRLFCRLF. The
// proxy must close the connection with zero bytes written back, not a
// 404 response body.
func TestEngineOverflowClosesWithNoResponseBody(t *testing.T) {
	eng := startEngine(t, &RuleSet{})

	_, proxyPort := eng.Addr()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(proxyPort))
	require.NoError(t, err)
	defer conn.Close()

	oversized := bytes.Repeat([]byte("A"), 4097)
	_, err = conn.Write(oversized)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := io.ReadAll(conn)
	require.True(t, err == nil || err == io.EOF)
	require.Empty(t, got)
}
