package fwdproxy

import (
	"regexp"
	"strconv"
	"strings"
)

// ipPortRegex and httpsRegex mirror the compiled patterns in
// original_source/src/server_helper.c (ip_port_regex / https_regex):
// each octet is bounded to 0-255 and the port to 1-65535, so
// "256.0.0.1:80" is rejected while "255.255.255.255:65535" is
// accepted.
const (
	octetPattern = `(25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])`
	// portPattern matches 1-65535 without leading zeros.
	portPattern = `([1-9][0-9]{0,3}|[1-5][0-9]{4}|6[0-4][0-9]{3}|65[0-4][0-9]{2}|655[0-2][0-9]|6553[0-5])`
)

var (
	ipPortRegex = regexp.MustCompile(`^` + octetPattern + `(\.` + octetPattern + `){3}:` + portPattern + `$`)
	httpsRegex  = regexp.MustCompile(`^[A-Za-z0-9.-]+:443$`)
)

const defaultHTTPPort = 80

// isIPPortFormat reports whether host is a literal "A.B.C.D:port".
func isIPPortFormat(host string) bool {
	return ipPortRegex.MatchString(host)
}

// isHTTPSFormat reports whether host is "name:443" — a request this
// proxy refuses, since CONNECT tunneling and TLS interception are both
// out of scope.
func isHTTPSFormat(host string) bool {
	return httpsRegex.MatchString(host)
}

// splitIPPort splits an "A.B.C.D:port" literal validated by
// isIPPortFormat into its IP and numeric port.
func splitIPPort(host string) (ip string, port int, err error) {
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return "", 0, &InvalidIPLiteralError{IP: host}
	}
	ip = host[:idx]
	port, err = strconv.Atoi(host[idx+1:])
	if err != nil {
		return "", 0, &InvalidIPLiteralError{IP: host}
	}
	return ip, port, nil
}

// rewriteLocalhost mirrors replace_localhost_with_ip: a Host header (or
// absolute-URI request target) naming "localhost" is rewritten to
// "127.0.0.1", preserving any port suffix.
func rewriteLocalhost(host string) string {
	if host == "localhost" {
		return "127.0.0.1"
	}
	if strings.HasPrefix(host, "localhost:") {
		return "127.0.0.1" + host[len("localhost"):]
	}
	return host
}

// rewriteRequestLineHost rewrites an absolute-URI request line
// ("GET http://localhost/x HTTP/1.1") to origin-form ("GET /x HTTP/1.1")
// by cutting the "http://<from>" authority out of the target; a target
// with no path becomes "/". Any other line is returned unchanged.
func rewriteRequestLineHost(line string, from string) string {
	if from == "" {
		return line
	}
	prefix := " http://" + from
	i := strings.Index(line, prefix)
	if i < 0 {
		return line
	}
	rest := line[i+len(prefix):]
	if strings.HasPrefix(rest, " ") {
		return line[:i] + " /" + rest
	}
	if strings.HasPrefix(rest, "/") {
		return line[:i] + " " + rest
	}
	return line
}
