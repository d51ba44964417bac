// Package host manages the QUIC connections between fountain peers. In the
// default datagram mode it is an unreliable, unordered channel, which is the
// setting a fountain code is built for.
package host

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"maps"
	"net"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	quic "github.com/quic-go/quic-go"
)

var log = logging.Logger("host")

const (
	DefaultPort = 7001

	alpn = "lt-fountain/1"
)

// TransportMode defines how frames are carried over QUIC connections
type TransportMode int

const (
	// TransportDatagram sends each frame as one QUIC datagram. Frames may be
	// lost or reordered, which the fountain code tolerates.
	TransportDatagram TransportMode = iota
	// TransportStream uses a QUIC stream for reliable, ordered delivery
	TransportStream
)

func (m TransportMode) String() string {
	switch m {
	case TransportDatagram:
		return "datagram"
	case TransportStream:
		return "stream"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// HostOption is a functional option for NewHost
type HostOption func(*Host) error

// AddPeerHandler receives every peer once its connection is registered
type AddPeerHandler func(peer.ID, Connection)

// RemovePeerHandler receives a peer once its connection has gone away
type RemovePeerHandler func(peer.ID)

// Host owns one UDP socket and the QUIC connections multiplexed on it,
// at most one per peer
type Host struct {
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup

	mutex       sync.Mutex // Protects connections and handlers
	connections map[peer.ID]Connection

	addHandler    AddPeerHandler
	removeHandler RemovePeerHandler

	transportMode TransportMode
	lossRate      float64 // Probability of dropping an outgoing datagram

	certificate *tls.Certificate
	endpoint    *net.UDPAddr
	peerID      peer.ID
	privateKey  crypto.PrivateKey

	transport *quic.Transport
	listener  *quic.Listener

	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	datagramsDropped atomic.Uint64
}

// NewHost creates a Host listening for QUIC connections
func NewHost(opts ...HostOption) (*Host, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Host{
		ctx:    ctx,
		cancel: cancel,

		endpoint:      net.UDPAddrFromAddrPort(netip.AddrPortFrom(netip.IPv4Unspecified(), DefaultPort)),
		connections:   make(map[peer.ID]Connection),
		transportMode: TransportDatagram,
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			cancel()
			return nil, err
		}
	}

	if h.privateKey == nil {
		_, privateKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			cancel()
			return nil, err
		}
		if err := WithIdentity(privateKey)(h); err != nil {
			cancel()
			return nil, err
		}
	}

	var err error
	if h.certificate, err = createTLSCertFromKey(h.privateKey); err != nil {
		cancel()
		return nil, err
	}

	udpConn, err := net.ListenUDP("udp", h.endpoint)
	if err != nil {
		cancel()
		return nil, err
	}
	h.transport = &quic.Transport{Conn: udpConn}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*h.certificate},
		ClientAuth:   tls.RequireAnyClientCert,
		NextProtos:   []string{alpn},
	}
	h.listener, err = h.transport.Listen(tlsConfig, quicConfig())
	if err != nil {
		udpConn.Close()
		cancel()
		return nil, err
	}

	h.waitGroup.Add(1)
	go h.acceptLoop()

	return h, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  5 * time.Minute,
		KeepAlivePeriod: 15 * time.Second,
	}
}

// Connect dials addr and registers the connection under the peer ID found
// in its certificate
func (h *Host) Connect(ctx context.Context, addr net.Addr) error {
	// The dial is cancelled when either the host or the caller gives up
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{*h.certificate},
		InsecureSkipVerify: true, // Peers are self-signed; the peer ID is checked in handleConnection
		NextProtos:         []string{alpn},
	}
	conn, err := h.transport.Dial(dialCtx, addr, tlsConfig, quicConfig())
	if err != nil {
		return err
	}

	peerID, err := h.handleConnection(conn)
	if err != nil {
		conn.CloseWithError(0, err.Error())
		return err
	}
	log.Infof("dialed peer %s at %s", peerID, addr)
	return nil
}

// LocalAddr returns the UDP address the host listens on
func (h *Host) LocalAddr() net.Addr {
	return h.transport.Conn.LocalAddr()
}

// ID returns the host's peer ID
func (h *Host) ID() peer.ID {
	return h.peerID
}

// Peers returns the IDs of the currently connected peers
func (h *Host) Peers() []peer.ID {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	peers := make([]peer.ID, 0, len(h.connections))
	for id := range h.connections {
		peers = append(peers, id)
	}
	return peers
}

// Close tears down every connection and the listener
func (h *Host) Close() error {
	h.mutex.Lock()
	conns := slices.Collect(maps.Values(h.connections))
	h.mutex.Unlock()
	// Close gracefully first so peers learn about it right away
	for _, conn := range conns {
		conn.Close()
	}

	h.cancel()
	err := h.transport.Close()
	h.waitGroup.Wait()
	return err
}

// SetPeerHandlers registers callbacks for peer connection events. The add
// handler is called right away for peers that are already connected.
func (h *Host) SetPeerHandlers(addHandler AddPeerHandler, removeHandler RemovePeerHandler) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.addHandler = addHandler
	h.removeHandler = removeHandler

	if h.addHandler != nil {
		for peerID, conn := range h.connections {
			h.addHandler(peerID, conn)
		}
	}
}

func (h *Host) newConnection(conn quic.Connection) Connection {
	switch h.transportMode {
	case TransportStream:
		return newStreamConnection(conn, h)
	default:
		return &datagramConnection{conn: conn, host: h}
	}
}

// handleConnection registers a new connection, incoming or outgoing
func (h *Host) handleConnection(conn quic.Connection) (peer.ID, error) {
	certs := conn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return "", fmt.Errorf("peer presented no certificate")
	}
	peerID, err := parsePeerIDFromCertificate(certs[0])
	if err != nil {
		return "", fmt.Errorf("failed parsing for a peer ID from the TLS certificate: %w", err)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, exists := h.connections[peerID]; exists {
		return "", fmt.Errorf("peer %s already has a connection", peerID)
	}

	wrapped := h.newConnection(conn)
	h.connections[peerID] = wrapped
	if h.addHandler != nil {
		h.addHandler(peerID, wrapped)
	}

	h.waitGroup.Add(1)
	go func() {
		defer h.waitGroup.Done()
		<-conn.Context().Done()

		h.mutex.Lock()
		defer h.mutex.Unlock()
		if h.connections[peerID] != wrapped {
			return
		}
		delete(h.connections, peerID)
		if h.removeHandler != nil {
			h.removeHandler(peerID)
		}
	}()
	return peerID, nil
}

func (h *Host) acceptLoop() {
	defer h.waitGroup.Done()

	log.Infof("listening on %s as %s (%s mode)", h.LocalAddr(), h.peerID, h.transportMode)

	for {
		conn, err := h.listener.Accept(h.ctx)
		if err != nil {
			if h.ctx.Err() == nil {
				log.Warnf("stopped accepting connections: %v", err)
			}
			return
		}

		peerID, err := h.handleConnection(conn)
		if err != nil {
			log.Warnf("rejecting connection from %s: %v", conn.RemoteAddr(), err)
			conn.CloseWithError(0, err.Error())
			continue
		}
		log.Infof("peer %s dialed in from %s", peerID, conn.RemoteAddr())
	}
}

// WithAddrPort sets the local UDP endpoint
func WithAddrPort(ep netip.AddrPort) HostOption {
	return func(h *Host) error {
		h.endpoint = net.UDPAddrFromAddrPort(ep)
		return nil
	}
}

// WithTransportMode sets the QUIC transport mode
func WithTransportMode(mode TransportMode) HostOption {
	return func(h *Host) error {
		if mode != TransportDatagram && mode != TransportStream {
			return fmt.Errorf("unknown transport mode %v", mode)
		}
		h.transportMode = mode
		return nil
	}
}

// WithLossRate drops each outgoing datagram with probability p. It simulates
// a lossy link and has no effect in stream mode.
func WithLossRate(p float64) HostOption {
	return func(h *Host) error {
		if !(p >= 0 && p < 1) {
			return fmt.Errorf("loss rate must be in [0, 1), got %v", p)
		}
		h.lossRate = p
		return nil
	}
}

// WithIdentity makes the host use an ed25519 identity key instead of a
// freshly generated one
func WithIdentity(privateKey crypto.PrivateKey) HostOption {
	return func(h *Host) error {
		peerID, err := peerIDFromPrivateKey(privateKey)
		if err != nil {
			return err
		}
		h.privateKey = privateKey
		h.peerID = peerID
		return nil
	}
}

// GetBytesSent returns how many bytes left this host, framing included
func (h *Host) GetBytesSent() uint64 {
	return h.bytesSent.Load()
}

// GetBytesReceived returns how many bytes arrived at this host, framing
// included
func (h *Host) GetBytesReceived() uint64 {
	return h.bytesReceived.Load()
}

// GetDatagramsDropped returns how many outgoing datagrams the simulated loss
// discarded
func (h *Host) GetDatagramsDropped() uint64 {
	return h.datagramsDropped.Load()
}
