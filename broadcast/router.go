// Package broadcast spreads messages over a QUIC peer network with an LT
// fountain code. The publisher streams droplets until its peers signal
// completion; receivers decode, verify, and deliver each message once and then
// help by emitting droplets of their own.
package broadcast

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ppopth/lt-fountain/host"
	"github.com/ppopth/lt-fountain/lt"
	"github.com/ppopth/lt-fountain/wire"
)

var log = logging.Logger("broadcast")

var (
	// ErrMessageTooLarge is returned by Publish for messages above MaxMessageSize
	ErrMessageTooLarge = errors.New("message exceeds the maximum size")
	// ErrAlreadyPublished is returned by Publish for a message this node already holds
	ErrAlreadyPublished = errors.New("message already published")
	// ErrUnknownMessage means the router holds no source for a message id
	ErrUnknownMessage = errors.New("unknown message")

	errRouterClosed      = errors.New("the router has been closed")
	errNextCallCancelled = errors.New("the call has been cancelled")
)

// MsgIdFunc generates unique identifiers for messages
type MsgIdFunc func([]byte) string

// Option configures a Router during construction
type Option func(*Router) error

// Params tunes the fountain broadcast
type Params struct {
	// Size of a source block, and of every droplet payload, in bytes
	ChunkSize int
	// Robust soliton constants
	C     float64
	Delta float64
	// Droplets sent right after Publish, as a multiple of K. The droplets are
	// spread round-robin over the shuffled peers.
	PublishMultiplier float64
	// While a message is still being decoded, every droplet that carried new
	// information is relayed unchanged to this many random peers other than
	// the one it came from
	ForwardMultiplier int
	// Every RepairInterval, each node holding a message sends RepairBatch fresh
	// droplets to each peer that has not signalled completion. A node stops
	// after MaxRepairRounds rounds, or earlier once every peer has completed.
	RepairBatch     int
	RepairInterval  time.Duration
	MaxRepairRounds int
	// Seeded droplets carry a seed instead of their block indices
	Seeded bool
	// Whether to disable completion signals. By default a node tells its peers
	// when it has decoded a message so they stop sending droplets for it.
	DisableCompletionSignal bool
	// How long a finished message id is remembered. Droplets of a remembered
	// message are dropped without decoding.
	SeenTTL time.Duration
	// Largest message accepted for publishing or decoding. Together with
	// ChunkSize it bounds the block count of every decoding session.
	MaxMessageSize int
	// A decoding session that receives no droplet for SessionTTL is dropped.
	// At most MaxSessions sessions are kept; a new one evicts the idlest.
	SessionTTL  time.Duration
	MaxSessions int
}

// DefaultParams returns parameters that fit a droplet frame in one QUIC
// datagram
func DefaultParams() Params {
	return Params{
		ChunkSize:         1000,
		C:                 lt.DefaultC,
		Delta:             lt.DefaultDelta,
		PublishMultiplier: 1.5,
		ForwardMultiplier: 1,
		RepairBatch:       8,
		RepairInterval:    100 * time.Millisecond,
		MaxRepairRounds:   100,
		Seeded:            true,
		SeenTTL:           2 * time.Minute,
		MaxMessageSize:    64 << 20,
		SessionTTL:        time.Minute,
		MaxSessions:       32,
	}
}

// Validate checks that the parameters are usable
func (p Params) Validate() error {
	switch {
	case p.ChunkSize <= 0:
		return fmt.Errorf("%w: %d", lt.ErrInvalidChunkSize, p.ChunkSize)
	case !(p.PublishMultiplier > 0):
		return fmt.Errorf("publish multiplier must be positive, got %v", p.PublishMultiplier)
	case p.ForwardMultiplier < 0 || p.RepairBatch < 0 || p.MaxRepairRounds < 0:
		return fmt.Errorf("forward multiplier, repair batch and repair rounds must not be negative")
	case p.MaxRepairRounds > 0 && p.RepairInterval <= 0:
		return fmt.Errorf("repair interval must be positive, got %v", p.RepairInterval)
	case p.SeenTTL <= 0:
		return fmt.Errorf("seen ttl must be positive, got %v", p.SeenTTL)
	case p.MaxMessageSize <= 0:
		return fmt.Errorf("max message size must be positive, got %d", p.MaxMessageSize)
	case lt.BlockCount(p.MaxMessageSize, p.ChunkSize) > wire.MaxBlocks:
		return fmt.Errorf("a %d byte message has more than %d blocks of %d bytes",
			p.MaxMessageSize, wire.MaxBlocks, p.ChunkSize)
	case p.SessionTTL <= 0:
		return fmt.Errorf("session ttl must be positive, got %v", p.SessionTTL)
	case p.MaxSessions <= 0:
		return fmt.Errorf("max sessions must be positive, got %d", p.MaxSessions)
	}
	return nil
}

// encoderOptions returns the encoder configuration for the given params
func (p Params) encoderOptions() []lt.EncoderOption {
	opts := []lt.EncoderOption{lt.WithSolitonParams(p.C, p.Delta), lt.WithMaxDegree(wire.MaxDegree)}
	if p.Seeded {
		opts = append(opts, lt.WithSeededDroplets())
	}
	return opts
}

// frameLimits bounds the droplet frames a router accepts to the geometry it
// would produce itself
func (p Params) frameLimits() wire.Limits {
	return wire.Limits{
		MaxBlocks: lt.BlockCount(p.MaxMessageSize, p.ChunkSize),
		MaxDegree: wire.MaxDegree,
		ChunkSize: p.ChunkSize,
	}
}

// WithParams sets custom broadcast parameters
func WithParams(params Params) Option {
	return func(router *Router) error {
		if err := params.Validate(); err != nil {
			return err
		}
		router.params = params
		return nil
	}
}

// WithMessageIdFn sets a custom message ID function (default is SHA-256)
func WithMessageIdFn(messageIDFunc MsgIdFunc) Option {
	return func(router *Router) error {
		if messageIDFunc == nil {
			return fmt.Errorf("message id function must not be nil")
		}
		router.messageIDFunc = messageIDFunc
		return nil
	}
}

// source is a message this node holds in full and can emit droplets for
type source struct {
	encoder  *lt.Encoder
	checksum uint64
}

// session is a message being decoded
type session struct {
	decoder   *lt.Decoder
	length    uint64
	chunkSize uint32
	checksum  uint64

	lastActive time.Time
}

// Counters describes what a router did with the frames it handled
type Counters struct {
	Delivered         int // Messages decoded, verified and queued for Next
	Corrupted         int // Decoded messages whose checksum did not match
	LateDroplets      int // Droplets of messages that were already finished
	RejectedFrames    int // Frames that failed to parse or did not fit their session
	PreventedDroplets int // Droplets not sent because the peer had completed
	ExpiredSessions   int // Decoding sessions dropped while idle or evicted
	OversizedFrames   int // Frames the transport refused as too large
}

type peerConn struct {
	id   peer.ID
	conn host.Connection
}

// Router runs the fountain broadcast on top of a host
type Router struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	host *host.Host

	mutex sync.Mutex // Protects all mutable state below
	cond  *sync.Cond // For blocking on message receipt

	params        Params
	limits        wire.Limits
	messageIDFunc MsgIdFunc

	peers                 map[peer.ID]host.Connection
	peerCompletedMessages map[peer.ID]map[string]struct{}

	sources  map[string]*source
	sessions map[string]*session
	finished *TimeCache // Ids of messages that were published or decoded

	received [][]byte // Queue of decoded messages waiting for Next
	counters Counters
}

// NewRouter creates a router and attaches it to the host's peers
func NewRouter(h *host.Host, opts ...Option) (*Router, error) {
	if h == nil {
		return nil, fmt.Errorf("host is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	router := &Router{
		ctx:    ctx,
		cancel: cancel,

		host: h,

		params:        DefaultParams(),
		messageIDFunc: hashSha256,

		peers:                 make(map[peer.ID]host.Connection),
		peerCompletedMessages: make(map[peer.ID]map[string]struct{}),
		sources:               make(map[string]*source),
		sessions:              make(map[string]*session),
	}
	router.cond = sync.NewCond(&router.mutex)

	for _, opt := range opts {
		if err := opt(router); err != nil {
			cancel()
			return nil, err
		}
	}

	router.limits = router.params.frameLimits()
	router.finished = NewTimeCache(router.params.SeenTTL, router.forget)
	h.SetPeerHandlers(router.AddPeer, router.RemovePeer)

	router.wg.Add(1)
	go router.sessionSweeper()

	return router, nil
}

// Publish encodes message and starts streaming droplets of it to the peers.
// The message is also queued locally for Next. It returns the message id.
func (router *Router) Publish(message []byte) (string, error) {
	if len(message) > router.params.MaxMessageSize {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(message), router.params.MaxMessageSize)
	}
	encoder, err := lt.NewEncoder(message, router.params.ChunkSize, router.params.encoderOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to create the encoder: %w", err)
	}
	messageID := router.messageIDFunc(message)

	router.mutex.Lock()
	if _, exists := router.sources[messageID]; exists {
		router.mutex.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyPublished, shortID(messageID))
	}
	router.sources[messageID] = &source{encoder: encoder, checksum: xxhash.Sum64(message)}
	router.finished.Add(messageID)
	delete(router.sessions, messageID)

	router.received = append(router.received, message)
	router.cond.Signal()

	peers := router.peerList("")
	router.mutex.Unlock()

	k := encoder.BlockCount()
	count := int(math.Ceil(float64(k) * router.params.PublishMultiplier))
	log.Infof("publishing message %s: %d bytes, %d blocks, %d droplets to %d peers",
		shortID(messageID), len(message), k, count, len(peers))

	if len(peers) > 0 {
		mrand.Shuffle(len(peers), func(i, j int) {
			peers[i], peers[j] = peers[j], peers[i]
		})
		// Failed sends do not count towards the burst, up to twice the attempts
		sent := 0
		for i := 0; sent < count && i < 2*count; i++ {
			if err := router.sendDroplet(messageID, peers[i%len(peers)]); err == nil || errors.Is(err, errPeerCompleted) {
				sent++
			}
		}
		if sent < count {
			log.Warnf("only %d of %d droplets of message %s were sent", sent, count, shortID(messageID))
		}
	}

	router.startRepair(messageID)
	return messageID, nil
}

// Next blocks until a message is delivered and returns it
func (router *Router) Next(ctx context.Context) ([]byte, error) {
	router.mutex.Lock()
	defer router.mutex.Unlock()

	if len(router.received) > 0 {
		message := router.received[0]
		router.received = router.received[1:]
		return message, nil
	}

	unregisterAfterFunc := context.AfterFunc(ctx, func() {
		// Wake up every waiter; only the one whose context is done returns
		router.mutex.Lock()
		defer router.mutex.Unlock()
		router.cond.Broadcast()
	})
	defer unregisterAfterFunc()

	for len(router.received) == 0 {
		select {
		case <-ctx.Done():
			return nil, errNextCallCancelled
		case <-router.ctx.Done():
			return nil, errRouterClosed
		default:
		}
		router.cond.Wait()
	}
	message := router.received[0]
	router.received = router.received[1:]
	return message, nil
}

// Progress returns the decoding statistics of a message still being decoded
func (router *Router) Progress(messageID string) (lt.Stats, bool) {
	router.mutex.Lock()
	defer router.mutex.Unlock()

	s, ok := router.sessions[messageID]
	if !ok {
		return lt.Stats{}, false
	}
	return s.decoder.Stats(), true
}

// Done reports whether the message was published or decoded by this node
// and is still remembered
func (router *Router) Done(messageID string) bool {
	return router.finished.Has(messageID)
}

// Counters returns a snapshot of the router counters
func (router *Router) Counters() Counters {
	router.mutex.Lock()
	defer router.mutex.Unlock()
	return router.counters
}

// CompletedPeers returns how many peers signalled completion of a message
func (router *Router) CompletedPeers(messageID string) int {
	router.mutex.Lock()
	defer router.mutex.Unlock()

	n := 0
	for _, completed := range router.peerCompletedMessages {
		if _, ok := completed[messageID]; ok {
			n++
		}
	}
	return n
}

// AddPeer registers a new peer and starts reading its frames
func (router *Router) AddPeer(peerID peer.ID, conn host.Connection) {
	router.mutex.Lock()
	defer router.mutex.Unlock()

	if router.ctx.Err() != nil {
		return
	}
	router.peers[peerID] = conn
	router.peerCompletedMessages[peerID] = make(map[string]struct{})

	router.wg.Add(1)
	go router.readLoop(peerID, conn)
}

// RemovePeer unregisters a peer
func (router *Router) RemovePeer(peerID peer.ID) {
	router.mutex.Lock()
	defer router.mutex.Unlock()

	delete(router.peers, peerID)
	delete(router.peerCompletedMessages, peerID)
}

// Close stops the router and wakes up any waiting Next calls. The host is
// left open.
func (router *Router) Close() error {
	router.host.SetPeerHandlers(nil, nil)

	router.mutex.Lock()
	router.cancel()
	router.cond.Broadcast()
	router.mutex.Unlock()

	router.wg.Wait()
	return router.finished.Close()
}

func (router *Router) readLoop(peerID peer.ID, conn host.Connection) {
	defer router.wg.Done()

	for {
		buf, err := conn.Receive(router.ctx)
		if err != nil {
			if router.ctx.Err() == nil {
				log.Debugf("stopped reading from peer %s: %v", peerID, err)
			}
			return
		}
		router.handleFrame(peerID, buf)
	}
}

// handleFrame processes one frame received from a peer
func (router *Router) handleFrame(from peer.ID, buf []byte) {
	frame, err := wire.UnmarshalWithLimits(buf, router.limits)
	if err != nil {
		router.mutex.Lock()
		router.counters.RejectedFrames++
		router.mutex.Unlock()
		log.Debugf("dropping frame from peer %s: %v", from, err)
		return
	}

	switch frame.Kind {
	case wire.KindCompletion:
		router.mutex.Lock()
		if completed, ok := router.peerCompletedMessages[from]; ok {
			completed[frame.MessageID] = struct{}{}
		}
		router.mutex.Unlock()
		log.Debugf("peer %s completed message %s", from, shortID(frame.MessageID))
	case wire.KindDroplet:
		router.handleDroplet(from, frame, buf)
	}
}

// handleDroplet feeds a droplet to the decoding session of its message. raw
// is the encoded frame, relayed as is.
func (router *Router) handleDroplet(from peer.ID, frame *wire.Frame, raw []byte) {
	messageID := frame.MessageID

	router.mutex.Lock()

	if router.finished.Has(messageID) {
		router.counters.LateDroplets++
		router.mutex.Unlock()
		return
	}

	s, ok := router.sessions[messageID]
	if !ok {
		if frame.Length > uint64(router.params.MaxMessageSize) {
			router.counters.RejectedFrames++
			router.mutex.Unlock()
			log.Debugf("dropping droplet of message %s: %d bytes is too large", shortID(messageID), frame.Length)
			return
		}
		decoder, err := lt.NewDecoder(int(frame.Length), int(frame.ChunkSize))
		if err != nil {
			router.counters.RejectedFrames++
			router.mutex.Unlock()
			log.Debugf("dropping droplet of message %s: %v", shortID(messageID), err)
			return
		}
		if len(router.sessions) >= router.params.MaxSessions {
			router.evictIdlestSession()
		}
		s = &session{
			decoder:   decoder,
			length:    frame.Length,
			chunkSize: frame.ChunkSize,
			checksum:  frame.Checksum,
		}
		router.sessions[messageID] = s
		log.Debugf("started decoding message %s: %d bytes, %d blocks", shortID(messageID), frame.Length, decoder.BlockCount())
	} else if s.length != frame.Length || s.chunkSize != frame.ChunkSize || s.checksum != frame.Checksum {
		router.counters.RejectedFrames++
		router.mutex.Unlock()
		log.Debugf("dropping droplet of message %s from peer %s: geometry does not match the session", shortID(messageID), from)
		return
	}

	s.lastActive = time.Now()
	redundantBefore := s.decoder.Stats().Redundant
	res, err := s.decoder.Catch(frame.Droplet)
	if err != nil {
		router.counters.RejectedFrames++
		router.mutex.Unlock()
		log.Debugf("dropping droplet of message %s: %v", shortID(messageID), err)
		return
	}

	var relayTo []peerConn
	if res.Stats.Redundant == redundantBefore && router.params.ForwardMultiplier > 0 {
		relayTo = router.pickPeers(messageID, from, router.params.ForwardMultiplier)
	}

	if res.State == lt.Missing {
		router.mutex.Unlock()
		router.relay(messageID, raw, relayTo)
		return
	}

	// Decoded
	delete(router.sessions, messageID)
	router.finished.Add(messageID)

	if xxhash.Sum64(res.Data) != s.checksum {
		router.counters.Corrupted++
		router.mutex.Unlock()
		log.Warnf("message %s decoded after %d droplets but its checksum does not match, discarding it",
			shortID(messageID), res.Stats.Droplets)
		return
	}

	router.counters.Delivered++
	router.received = append(router.received, res.Data)
	router.cond.Signal()

	// The node now holds the message and can emit droplets of its own
	encoder, err := lt.NewEncoder(res.Data, int(s.chunkSize), router.params.encoderOptions()...)
	if err != nil {
		log.Warnf("cannot re-encode message %s: %v", shortID(messageID), err)
	} else {
		router.sources[messageID] = &source{encoder: encoder, checksum: s.checksum}
	}

	var notify []peerConn
	if !router.params.DisableCompletionSignal {
		notify = router.peerList("")
	}
	router.mutex.Unlock()

	log.Infof("decoded message %s: %d bytes from %d droplets (overhead %.2f, %d redundant)",
		shortID(messageID), len(res.Data), res.Stats.Droplets, res.Stats.Overhead(), res.Stats.Redundant)

	router.relay(messageID, raw, relayTo)
	router.broadcastCompletionSignal(messageID, notify)
	if encoder != nil {
		router.startRepair(messageID)
	}
}

// relay forwards a received droplet frame unchanged
func (router *Router) relay(messageID string, raw []byte, peers []peerConn) {
	for _, p := range peers {
		if err := p.conn.Send(raw); err != nil {
			log.Debugf("failed to relay droplet of message %s to peer %s: %v", shortID(messageID), p.id, err)
		}
	}
}

// broadcastCompletionSignal tells peers that this node has the message
func (router *Router) broadcastCompletionSignal(messageID string, peers []peerConn) {
	if len(peers) == 0 {
		return
	}
	buf, err := wire.Marshal(&wire.Frame{Kind: wire.KindCompletion, MessageID: messageID})
	if err != nil {
		log.Warnf("failed to encode completion signal: %v", err)
		return
	}
	log.Debugf("broadcasting completion signal for message %s to %d peers", shortID(messageID), len(peers))
	for _, p := range peers {
		if err := p.conn.Send(buf); err != nil {
			log.Debugf("failed to send completion signal to peer %s: %v", p.id, err)
		}
	}
}

// startRepair keeps sending droplets of a held message to the peers that
// have not completed it
func (router *Router) startRepair(messageID string) {
	if router.params.MaxRepairRounds == 0 || router.params.RepairBatch == 0 {
		return
	}

	router.mutex.Lock()
	defer router.mutex.Unlock()
	if router.ctx.Err() != nil {
		return
	}

	router.wg.Add(1)
	go func() {
		defer router.wg.Done()

		ticker := time.NewTicker(router.params.RepairInterval)
		defer ticker.Stop()

		for round := 0; round < router.params.MaxRepairRounds; round++ {
			select {
			case <-router.ctx.Done():
				return
			case <-ticker.C:
			}

			router.mutex.Lock()
			_, held := router.sources[messageID]
			pending := router.pendingPeers(messageID)
			connected := len(router.peers)
			router.mutex.Unlock()

			if !held {
				return
			}
			if len(pending) == 0 && connected > 0 {
				log.Debugf("every peer completed message %s after %d repair rounds", shortID(messageID), round)
				return
			}
			for _, p := range pending {
				for i := 0; i < router.params.RepairBatch; i++ {
					router.sendDroplet(messageID, p)
				}
			}
		}
	}()
}

// sendDroplet emits a fresh droplet of a held message to one peer
func (router *Router) sendDroplet(messageID string, p peerConn) error {
	buf, err := router.emit(messageID, p.id)
	if err != nil {
		if !errors.Is(err, errPeerCompleted) {
			log.Debugf("cannot emit a droplet of message %s: %v", shortID(messageID), err)
		}
		return err
	}
	if err := p.conn.Send(buf); err != nil {
		if errors.Is(err, host.ErrFrameTooLarge) {
			router.mutex.Lock()
			router.counters.OversizedFrames++
			router.mutex.Unlock()
			log.Warnf("droplet of message %s does not fit the transport, use seeded droplets or a smaller chunk size: %v",
				shortID(messageID), err)
		} else {
			log.Debugf("failed to send droplet of message %s to peer %s: %v", shortID(messageID), p.id, err)
		}
		return err
	}
	return nil
}

var errPeerCompleted = errors.New("peer already completed the message")

// emit encodes a fresh droplet frame of a held message for a peer
func (router *Router) emit(messageID string, to peer.ID) ([]byte, error) {
	router.mutex.Lock()
	defer router.mutex.Unlock()

	if _, completed := router.peerCompletedMessages[to][messageID]; completed {
		router.counters.PreventedDroplets++
		return nil, errPeerCompleted
	}
	src, ok := router.sources[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, shortID(messageID))
	}

	return wire.Marshal(&wire.Frame{
		Kind:      wire.KindDroplet,
		MessageID: messageID,
		Length:    uint64(src.encoder.Length()),
		ChunkSize: uint32(src.encoder.ChunkSize()),
		Checksum:  src.checksum,
		Droplet:   src.encoder.NextDroplet(),
	})
}

// peerList returns every peer except exclude. Callers hold the mutex.
func (router *Router) peerList(exclude peer.ID) []peerConn {
	peers := make([]peerConn, 0, len(router.peers))
	for id, conn := range router.peers {
		if id != exclude {
			peers = append(peers, peerConn{id: id, conn: conn})
		}
	}
	return peers
}

// pendingPeers returns the peers that have not completed a message. Callers
// hold the mutex.
func (router *Router) pendingPeers(messageID string) []peerConn {
	var peers []peerConn
	for id, conn := range router.peers {
		if _, completed := router.peerCompletedMessages[id][messageID]; !completed {
			peers = append(peers, peerConn{id: id, conn: conn})
		}
	}
	return peers
}

// pickPeers picks up to n random peers, other than exclude, that have not
// completed a message. Callers hold the mutex.
func (router *Router) pickPeers(messageID string, exclude peer.ID, n int) []peerConn {
	var candidates []peerConn
	for _, p := range router.pendingPeers(messageID) {
		if p.id != exclude {
			candidates = append(candidates, p)
		}
	}
	mrand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates[:min(n, len(candidates))]
}

// sessionSweeper drops decoding sessions that went idle
func (router *Router) sessionSweeper() {
	defer router.wg.Done()

	ticker := time.NewTicker(max(router.params.SessionTTL/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-router.ctx.Done():
			return
		case now := <-ticker.C:
			router.mutex.Lock()
			router.expireSessions(now)
			router.mutex.Unlock()
		}
	}
}

// expireSessions drops the sessions idle since before now-SessionTTL and
// returns how many went. Callers hold the mutex.
func (router *Router) expireSessions(now time.Time) int {
	n := 0
	for id, s := range router.sessions {
		if now.Sub(s.lastActive) > router.params.SessionTTL {
			delete(router.sessions, id)
			n++
			log.Debugf("dropped idle session of message %s after %d droplets", shortID(id), s.decoder.Stats().Droplets)
		}
	}
	router.counters.ExpiredSessions += n
	return n
}

// evictIdlestSession drops the session that received a droplet least
// recently. Callers hold the mutex.
func (router *Router) evictIdlestSession() {
	var idlest string
	var oldest time.Time
	for id, s := range router.sessions {
		if idlest == "" || s.lastActive.Before(oldest) {
			idlest, oldest = id, s.lastActive
		}
	}
	if idlest == "" {
		return
	}
	delete(router.sessions, idlest)
	router.counters.ExpiredSessions++
	log.Debugf("evicted session of message %s to make room", shortID(idlest))
}

// forget drops what the router keeps about a message once its id expires
func (router *Router) forget(messageID string) {
	router.mutex.Lock()
	defer router.mutex.Unlock()

	delete(router.sources, messageID)
	for _, completed := range router.peerCompletedMessages {
		delete(completed, messageID)
	}
}

// hashSha256 is the default message ID function - SHA-256 hex string
func hashSha256(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

func shortID(messageID string) string {
	return messageID[:min(8, len(messageID))]
}
