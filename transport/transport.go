// Package transport is the send layer spec.md §9 calls out as owning the
// HEADER_SIZE-byte frame prefix: a TCP daemon.Sender plus a Listener that
// decodes inbound replica acknowledgments and hands each one to a
// caller-supplied callback (cmd/lockd wires this to registry.Dispatch).
// TCP.Resolve is the matching caller-supplied address resolver: it maps a
// Listener's inbound connection back to the CommId AddPeer registered it
// under, a best-effort match against the peer's known dial address rather
// than an authenticated handshake.
//
// Grounded on cluster/node.go's RemoteNode: a per-target connection,
// dial-on-demand, and "write the message, mark the target down on any
// error" shape. RemoteNode also reads a synchronous reply off the same
// connection (Cassandra-style request/response); this protocol's replies
// arrive asynchronously and out of band (a replica may ack long after the
// write returns, or not at all), so Send here only writes and returns —
// there is no ConnectionPool, since there is nothing to pool a response
// onto.
package transport

import (
	"net"
	"sync"
	"time"

	"github.com/op/go-logging"
	"github.com/pkg/errors"

	"github.com/lockkv/replicator/message"
	"github.com/lockkv/replicator/node"
)

var logger = logging.MustGetLogger("transport")

// TCP is a daemon.Sender that dials a fresh connection per send to the
// address registered for a target CommId. addr lookups are provided by
// the caller (typically topology.Configuration membership) via AddPeer.
// AddPeer also populates the reverse addr->CommId direction, so TCP.Resolve
// can be handed to a Listener to turn an inbound connection's remote
// address back into the CommId that dialed it.
type TCP struct {
	mu          sync.RWMutex
	peers       map[node.CommId]string
	byAddr      map[string]node.CommId
	dialTimeout time.Duration
	self        node.CommId
}

func NewTCP(self node.CommId, dialTimeout time.Duration) *TCP {
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	return &TCP{
		peers:       make(map[node.CommId]string),
		byAddr:      make(map[string]node.CommId),
		dialTimeout: dialTimeout,
		self:        self,
	}
}

// AddPeer registers the address a target CommId can be dialed at, and the
// reverse mapping Resolve uses to identify that peer's inbound connections.
func (t *TCP) AddPeer(id node.CommId, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[id] = addr
	t.byAddr[addr] = id
}

// RemovePeer drops a previously registered address, in both directions.
func (t *TCP) RemovePeer(id node.CommId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if addr, ok := t.peers[id]; ok {
		delete(t.byAddr, addr)
	}
	delete(t.peers, id)
}

// Resolve maps an inbound connection's remote address back to the CommId
// registered for it via AddPeer, or node.NilCommId if remoteAddr isn't a
// known peer. remoteAddr is matched as the host:port pair a peer's
// outbound connection presents, which is only reliable when peers dial
// from a stable, previously-registered source address (see the package
// doc comment) — a handshake exchanging CommIds on connect would be a
// more robust replacement but none exists yet.
func (t *TCP) Resolve(remoteAddr string) node.CommId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id, ok := t.byAddr[remoteAddr]; ok {
		return id
	}
	return node.NilCommId
}

// Send implements daemon.Sender: dial target's registered address, write
// one framed message, close. A connection or address-resolution failure
// is returned, wrapped with the target and address, so daemon.RealContext
// can log and count it; no retry happens here — the replicator's own
// resend timer owns retries.
func (t *TCP) Send(target node.CommId, m message.Message) error {
	if target == t.self {
		return errors.New("transport: refusing to dial self")
	}

	t.mu.RLock()
	addr, ok := t.peers[target]
	t.mu.RUnlock()
	if !ok {
		return errors.Errorf("transport: no address registered for target %v", target)
	}

	conn, err := net.DialTimeout("tcp", addr, t.dialTimeout)
	if err != nil {
		return errors.Wrapf(err, "transport: dial %v at %s", target, addr)
	}
	defer conn.Close()

	if err := message.WriteFrame(conn, m); err != nil {
		return errors.Wrapf(err, "transport: write frame to %v at %s", target, addr)
	}
	return nil
}

// Listener accepts inbound framed connections and decodes exactly one
// message per connection before closing it, matching Send's one-shot
// shape on the sending side.
type Listener struct {
	ln    net.Listener
	onAck func(from node.CommId, ack *message.KVSLockAck)
}

// NewListener binds addr and will invoke onAck for every KVS_LOCK_ACK
// decoded off an inbound connection. from is best-effort: this protocol
// doesn't authenticate the peer, so it is whatever the caller's topology
// lookup resolves the remote address to (or node.NilCommId if unknown).
func NewListener(addr string, resolve func(remoteAddr string) node.CommId, onAck func(from node.CommId, ack *message.KVSLockAck)) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: listen on %s", addr)
	}
	l := &Listener{ln: ln, onAck: onAck}
	go l.acceptLoop(resolve)
	return l, nil
}

func (l *Listener) acceptLoop(resolve func(string) node.CommId) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			logger.Debugf("transport: listener closed: %v", err)
			return
		}
		go l.handle(conn, resolve)
	}
}

func (l *Listener) handle(conn net.Conn, resolve func(string) node.CommId) {
	defer conn.Close()
	m, err := message.ReadFrame(conn)
	if err != nil {
		logger.Debugf("transport: read frame from %v: %v", conn.RemoteAddr(), err)
		return
	}
	ack, ok := m.(*message.KVSLockAck)
	if !ok {
		logger.Debugf("transport: ignoring unexpected message type %T from %v", m, conn.RemoteAddr())
		return
	}
	from := node.NilCommId
	if resolve != nil {
		from = resolve(conn.RemoteAddr().String())
	}
	if l.onAck != nil {
		l.onAck(from, ack)
	}
}

func (l *Listener) Close() error {
	return l.ln.Close()
}
