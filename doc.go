/*
Package fwdproxy implements a filtering forward HTTP proxy.

Clients open a TCP connection, send a single HTTP/1.1 request, and the
proxy parses just enough of it to find the origin server's Host header,
checks a domain blocklist, resolves the origin (via an in-process
hostname cache or an IP:port literal), opens an upstream connection,
forwards the original request bytes and then relays bytes in both
directions until either side closes.

The engine is a single-threaded, cooperative event loop: one goroutine
owns a descriptor registry and drives accept, read, write, connect and
name resolution inline. There is no worker pool and no per-connection
goroutine; Engine.Run is meant to be the only goroutine touching its
slot table.

	eng, err := NewEngine(Config{Address: "127.0.0.1", Port: 8080, MaxClients: 10}, rules, cache)
	if err != nil {
		log.Fatal(err)
	}
	if err := eng.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package fwdproxy
