package fwdproxy

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Config holds the engine's startup parameters, as loaded from the
// config file's PORT/ADDRESS/MAX_CLIENT keys.
type Config struct {
	Address    string
	Port       int
	MaxClients int
}

const (
	// maxRequestBuf matches the fixed 4096-byte client buffer design
	// value (§3): a request that never completes within this many
	// bytes is rejected as too large.
	maxRequestBuf = 4096
	readBufSize   = 65536
)

type side int

const (
	sideClient side = iota
	sideUpstream
)

type slotRef struct {
	slot *ConnectionSlot
	side side
}

// Engine is the single-threaded relay loop described by §4.1/§4.8: one
// goroutine owns registry, accepts connections, drives the request
// framer, classifies hosts, resolves and connects upstreams, and
// relays bytes, all inline. It never spawns a per-connection
// goroutine.
type Engine struct {
	cfg   Config
	rules *RuleSet
	cache *ResolverCache

	registry *descriptorRegistry
	refs     map[int]slotRef

	listenFD    int
	listenIndex int

	pipeR, pipeW int
	pipeIndex    int

	clientCount int
}

// NewEngine creates the listening socket and self-pipe but does not
// start accepting connections; call Run to do that.
func NewEngine(cfg Config, rules *RuleSet, cache *ResolverCache) (*Engine, error) {
	if cache == nil {
		cache = NewResolverCache(nil)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, errors.Wrap(err, "create listen socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}

	ip := net.ParseIP(cfg.Address)
	if ip == nil {
		ip = net.IPv4zero
	}
	var sa unix.SockaddrInet4
	copy(sa.Addr[:], ip.To4())
	sa.Port = cfg.Port

	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind %s:%d", cfg.Address, cfg.Port)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "listen")
	}

	boundPort := cfg.Port
	if name, err := unix.Getsockname(fd); err == nil {
		if in4, ok := name.(*unix.SockaddrInet4); ok {
			boundPort = in4.Port
		}
	}

	pr, pw, err := pipe2NonBlock()
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "create shutdown pipe")
	}

	registry := newDescriptorRegistry()
	listenIndex := registry.add(fd, unix.POLLIN)
	pipeIndex := registry.add(pr, unix.POLLIN)

	cfg.Port = boundPort
	return &Engine{
		cfg:         cfg,
		rules:       rules,
		cache:       cache,
		registry:    registry,
		refs:        make(map[int]slotRef),
		listenFD:    fd,
		listenIndex: listenIndex,
		pipeR:       pr,
		pipeW:       pw,
		pipeIndex:   pipeIndex,
	}, nil
}

// Addr returns the address the listening socket is bound to, useful
// when Config.Port is 0 and the kernel chose an ephemeral port.
func (e *Engine) Addr() (string, int) {
	return e.cfg.Address, e.cfg.Port
}

func pipe2NonBlock() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// Shutdown wakes a blocked Run by writing to the self-pipe, the
// cooperative analogue of a SIGINT interrupting poll() in
// original_source/main.c's handle_sigint.
func (e *Engine) Shutdown() {
	unix.Write(e.pipeW, []byte{0})
}

// Run drives the event loop until ctx is canceled or Shutdown is
// called, then tears down: active slots, listener, self-pipe, and
// finally the resolver cache. Run does not close the rule set or the
// logger.
func (e *Engine) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.Shutdown()
		case <-done:
		}
	}()

	defer e.teardown()

	for {
		if err := e.registry.poll(-1); err != nil {
			return errors.Wrap(err, "poll")
		}

		if e.registry.revents(e.pipeIndex)&unix.POLLIN != 0 {
			return nil
		}

		if e.registry.revents(e.listenIndex)&unix.POLLIN != 0 {
			e.acceptOne()
		}

		e.serviceSlots()
		e.compact()
	}
}

func (e *Engine) teardown() {
	for _, ref := range e.refs {
		if ref.side == sideClient {
			e.closeSlot(ref.slot)
		}
	}
	unix.Close(e.listenFD)
	unix.Close(e.pipeR)
	unix.Close(e.pipeW)
	e.cache.Close()
}

// descriptorBudget mirrors the main-loop pseudocontract's refusal
// threshold: once the registry would hold more than max_clients*2+1
// descriptors (listener + self-pipe + two per slot), a freshly
// accepted connection is closed immediately rather than serviced.
func (e *Engine) descriptorBudget() int {
	if e.cfg.MaxClients <= 0 {
		return -1
	}
	return e.cfg.MaxClients*2 + 1
}

func (e *Engine) acceptOne() {
	fd, sa, err := unix.Accept4(e.listenFD, unix.SOCK_NONBLOCK)
	if err != nil {
		if err != unix.EAGAIN {
			Log.WithError(err).Warn("accept failed")
		}
		return
	}

	if budget := e.descriptorBudget(); budget >= 0 && e.registry.len() >= budget {
		Log.Warn("max clients reached, refusing connection")
		unix.Close(fd)
		return
	}

	ip := "unknown"
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		ip = net.IP(in4.Addr[:]).String()
	}

	slot := newConnectionSlot(fd, ip)
	idx := e.registry.add(fd, unix.POLLIN)
	slot.ClientIndex = idx
	e.refs[idx] = slotRef{slot: slot, side: sideClient}
	e.clientCount++

	Log.WithFields(map[string]interface{}{"client_ip": ip}).Info("accepted connection")
}

func (e *Engine) serviceSlots() {
	n := e.registry.len()
	for i := 0; i < n; i++ {
		if i == e.listenIndex || i == e.pipeIndex {
			continue
		}
		ref, ok := e.refs[i]
		if !ok {
			continue
		}
		revents := e.registry.revents(i)
		if revents == 0 {
			continue
		}
		if ref.side == sideClient {
			e.handleClient(ref.slot, revents)
		} else {
			e.handleUpstream(ref.slot, revents)
		}
	}
}

func (e *Engine) handleClient(slot *ConnectionSlot, revents int16) {
	switch slot.Phase {
	case PhaseReadingRequest:
		e.readRequest(slot, revents)
	case PhaseRelaying:
		e.relay(slot, slot.ClientFD, slot.UpstreamFD, revents)
	}
}

func (e *Engine) handleUpstream(slot *ConnectionSlot, revents int16) {
	if slot.Phase != PhaseRelaying {
		return
	}
	e.relay(slot, slot.UpstreamFD, slot.ClientFD, revents)
}

func (e *Engine) readRequest(slot *ConnectionSlot, revents int16) {
	if revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		e.closeSlot(slot)
		return
	}
	if revents&unix.POLLIN == 0 {
		return
	}

	buf := make([]byte, readBufSize)
	n, err := unix.Read(slot.ClientFD, buf)
	if n == 0 || (err != nil && err != unix.EAGAIN) {
		e.closeSlot(slot)
		return
	}
	if n > 0 {
		slot.ClientBuf = append(slot.ClientBuf, buf[:n]...)
	}

	if isHTTPMethod(slot.ClientBuf) && isHTTPRequestComplete(slot.ClientBuf) {
		e.advanceToUpstream(slot)
		return
	}

	// Only a buffer that has filled up without yielding a recognized
	// request is a hard failure; anything short of that budget is just
	// a request still arriving in pieces, and the framer is consulted
	// again once more bytes land (mirrors handle_connection, which
	// only inspects is_http_method/is_http_request_complete after
	// total_bytes_read == BUFFER_SIZE, never to abort early).
	if len(slot.ClientBuf) > maxRequestBuf {
		// Malformed/oversized request: close with no response body,
		// per the "Malformed request" error policy.
		e.closeSlot(slot)
	}
}

func (e *Engine) advanceToUpstream(slot *ConnectionSlot) {
	rawHost, _, ok := getHTTPHost(slot.ClientBuf)
	if !ok {
		e.refuse(slot, response404)
		return
	}

	outgoing := rewriteRequestLineForLocalhost(slot.ClientBuf, rawHost)
	host := rewriteLocalhost(rawHost)
	slot.Host = host

	if isHTTPSFormat(host) {
		e.refuse(slot, response404)
		return
	}

	if e.rules.IsDenied(host) {
		Log.WithField("host", host).Warn("denied host")
		e.refuse(slot, response403)
		return
	}

	ip, port, err := e.resolveTarget(host)
	if err != nil {
		Log.WithField("host", host).WithError(err).Warn("resolve failed")
		e.closeSlot(slot)
		return
	}

	upstreamFD, err := connectUpstream(ip, port)
	if err != nil {
		Log.WithField("host", host).WithError(err).Warn("connect failed")
		e.refuse(slot, response404)
		return
	}

	if err := writeAll(upstreamFD, outgoing); err != nil {
		unix.Close(upstreamFD)
		e.refuse(slot, response404)
		return
	}

	slot.UpstreamFD = upstreamFD
	idx := e.registry.add(upstreamFD, unix.POLLIN)
	slot.UpstreamIndex = idx
	e.refs[idx] = slotRef{slot: slot, side: sideUpstream}
	slot.Phase = PhaseRelaying
	slot.ClientBuf = nil
}

func (e *Engine) resolveTarget(host string) (ip string, port int, err error) {
	if isIPPortFormat(host) {
		return splitIPPort(host)
	}
	resolved, err := e.cache.Resolve(context.Background(), host)
	if err != nil {
		return "", 0, err
	}
	return resolved, defaultHTTPPort, nil
}

// rewriteRequestLineForLocalhost rewrites an absolute-URI request line
// referencing localhost to origin-form, leaving every other byte of
// the original request untouched before it is forwarded upstream.
func rewriteRequestLineForLocalhost(buf []byte, host string) []byte {
	if !(host == "localhost" || len(host) > len("localhost:") && host[:len("localhost:")] == "localhost:") {
		return buf
	}
	lineEnd := indexCRLF(buf)
	if lineEnd < 0 {
		return buf
	}
	line := string(buf[:lineEnd])
	rewritten := rewriteRequestLineHost(line, host)
	out := make([]byte, 0, len(buf))
	out = append(out, rewritten...)
	out = append(out, buf[lineEnd:]...)
	return out
}

func indexCRLF(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func (e *Engine) refuse(slot *ConnectionSlot, response []byte) {
	writeAll(slot.ClientFD, response)
	e.closeSlot(slot)
}

// relay copies whatever is currently ready from src to dst, all in one
// non-blocking read plus an all-or-nothing write, never buffering a
// partial chunk across loop iterations.
func (e *Engine) relay(slot *ConnectionSlot, src, dst int, revents int16) {
	if revents&(unix.POLLHUP|unix.POLLERR) != 0 {
		e.closeSlot(slot)
		return
	}
	if revents&unix.POLLIN == 0 {
		return
	}

	buf := make([]byte, readBufSize)
	n, err := unix.Read(src, buf)
	if n == 0 || (err != nil && err != unix.EAGAIN) {
		e.closeSlot(slot)
		return
	}
	if err := writeAll(dst, buf[:n]); err != nil {
		e.closeSlot(slot)
		return
	}
}

// writeAll writes the entirety of buf to fd, looping past EAGAIN and
// short writes, matching write_on_socket_http_from_buffer's
// all-or-nothing discipline.
func writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (e *Engine) closeSlot(slot *ConnectionSlot) {
	if slot.ClientIndex >= 0 {
		e.registry.close(slot.ClientIndex)
		delete(e.refs, slot.ClientIndex)
		slot.ClientIndex = -1
	}
	if slot.UpstreamIndex >= 0 {
		e.registry.close(slot.UpstreamIndex)
		delete(e.refs, slot.UpstreamIndex)
		slot.UpstreamIndex = -1
	}
	e.clientCount--
}

func (e *Engine) compact() {
	remap := e.registry.compact()

	newRefs := make(map[int]slotRef, len(e.refs))
	for oldIdx, ref := range e.refs {
		newIdx, ok := remap[oldIdx]
		if !ok || newIdx < 0 {
			continue
		}
		newRefs[newIdx] = ref
		if ref.side == sideClient {
			ref.slot.ClientIndex = newIdx
		} else {
			ref.slot.UpstreamIndex = newIdx
		}
	}
	e.refs = newRefs

	if newIdx, ok := remap[e.listenIndex]; ok && newIdx >= 0 {
		e.listenIndex = newIdx
	}
	if newIdx, ok := remap[e.pipeIndex]; ok && newIdx >= 0 {
		e.pipeIndex = newIdx
	}
}
