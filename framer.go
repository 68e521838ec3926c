package fwdproxy

import (
	"bytes"
	"strings"
)

// httpMethods mirrors original_source/src/http_helper.c's http_methods
// table: only these verbs are recognized as the start of a request.
var httpMethods = []string{
	"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH", "TRACE", "CONNECT",
}

const maxRequestLineLen = 256

// isHTTPMethod reports whether buf begins with one of the recognized
// HTTP methods followed by a space.
func isHTTPMethod(buf []byte) bool {
	for _, m := range httpMethods {
		if len(buf) > len(m) && string(buf[:len(m)]) == m && buf[len(m)] == ' ' {
			return true
		}
	}
	return false
}

// isHTTPRequestComplete reports whether buf contains a full request
// line and header block: the request line (METHOD SP TARGET SP
// HTTP/1.1), no longer than maxRequestLineLen, a Host header, and the
// terminating blank line.
func isHTTPRequestComplete(buf []byte) bool {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return false
	}

	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd < 0 || lineEnd > maxRequestLineLen {
		return false
	}
	requestLine := string(buf[:lineEnd])
	parts := strings.Split(requestLine, " ")
	if len(parts) != 3 {
		return false
	}
	if parts[2] != "HTTP/1.1" {
		return false
	}

	return hasHostHeader(buf[:headerEnd])
}

func hasHostHeader(headers []byte) bool {
	for _, line := range strings.Split(string(headers), "\r\n") {
		if strings.HasPrefix(strings.ToLower(line), "host:") {
			return true
		}
	}
	return false
}

// getHTTPHost extracts the Host header's value and the request
// target from a complete request buffer.
func getHTTPHost(buf []byte) (host string, target string, ok bool) {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return "", "", false
	}
	lines := strings.Split(string(buf[:headerEnd]), "\r\n")
	if len(lines) == 0 {
		return "", "", false
	}
	requestParts := strings.Split(lines[0], " ")
	if len(requestParts) != 3 {
		return "", "", false
	}
	target = requestParts[1]

	for _, line := range lines[1:] {
		if strings.HasPrefix(strings.ToLower(line), "host:") {
			host = strings.TrimSpace(line[len("host:"):])
			return host, target, true
		}
	}
	return "", "", false
}
