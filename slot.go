package fwdproxy

// Phase is the state of a connection slot within the relay state
// machine (§4.8).
type Phase int

const (
	// PhaseReadingRequest: the client side is still being read until a
	// complete HTTP/1.1 request line plus headers is recognized.
	PhaseReadingRequest Phase = iota
	// PhaseRelaying: both sides are open and bytes are copied in
	// whichever direction has data ready, client side serviced first
	// when both are ready in the same iteration. The upstream connect
	// itself (classification, rule check, resolve, connect) happens
	// synchronously inline when the request is recognized complete,
	// so there is no separate connecting phase to observe.
	PhaseRelaying
)

// ConnectionSlot holds everything the engine needs to track one
// client/upstream pair. It is the Go analogue of §3's ConnectionSlot:
// in the original design the client and upstream descriptors alias the
// same heap object via two registry indices; here a single
// *ConnectionSlot is referenced from both the client-index and
// upstream-index side tables, so closing one side never frees the
// other's view of shared fields (clientIP, phase, buffers) out from
// under it.
type ConnectionSlot struct {
	ClientFD   int
	UpstreamFD int

	ClientIndex   int // index into the descriptor registry, or -1
	UpstreamIndex int // index into the descriptor registry, or -1

	// ClientBuf accumulates bytes during PhaseReadingRequest; it is
	// discarded once the request is forwarded upstream, since relaying
	// never buffers a chunk across loop iterations.
	ClientBuf []byte

	ClientIP string
	Host     string

	Phase Phase
}

func newConnectionSlot(clientFD int, clientIP string) *ConnectionSlot {
	return &ConnectionSlot{
		ClientFD:      clientFD,
		UpstreamFD:    closedFD,
		ClientIndex:   -1,
		UpstreamIndex: -1,
		ClientIP:      clientIP,
		Phase:         PhaseReadingRequest,
	}
}
