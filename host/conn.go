package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
)

// maxStreamFrame bounds a length-prefixed frame on a stream
const maxStreamFrame = 16 << 20

// ErrFrameTooLarge is returned by Send when the transport cannot carry a frame
// of that size
var ErrFrameTooLarge = errors.New("frame too large for the transport")

type Sender interface {
	Send([]byte) error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

type Receiver interface {
	Receive(context.Context) ([]byte, error)

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Connection is a framed, bidirectional link to one peer
type Connection interface {
	Sender
	Receiver

	Close() error
}

// datagramConnection carries each frame in one QUIC datagram
type datagramConnection struct {
	conn quic.Connection
	host *Host
}

func (dc *datagramConnection) Send(buf []byte) error {
	if p := dc.host.lossRate; p > 0 && rand.Float64() < p {
		// The frame is lost on the simulated link, the sender is not told
		dc.host.datagramsDropped.Add(1)
		return nil
	}
	if err := dc.conn.SendDatagram(buf); err != nil {
		var tooLarge *quic.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: %d bytes, datagrams carry at most %d", ErrFrameTooLarge, len(buf), tooLarge.MaxDatagramPayloadSize)
		}
		return err
	}
	dc.host.bytesSent.Add(uint64(len(buf)))
	return nil
}

func (dc *datagramConnection) Receive(ctx context.Context) ([]byte, error) {
	buf, err := dc.conn.ReceiveDatagram(ctx)
	if err != nil {
		return nil, err
	}
	dc.host.bytesReceived.Add(uint64(len(buf)))
	return buf, nil
}

func (dc *datagramConnection) LocalAddr() net.Addr {
	return dc.conn.LocalAddr()
}

func (dc *datagramConnection) RemoteAddr() net.Addr {
	return dc.conn.RemoteAddr()
}

func (dc *datagramConnection) Close() error {
	return dc.conn.CloseWithError(0, "")
}

// streamConnection carries length-prefixed frames. It sends on a stream it
// opens and receives on the stream the peer opens.
type streamConnection struct {
	conn quic.Connection
	host *Host

	sendMutex  sync.Mutex
	sendStream quic.Stream

	recvStream quic.Stream
	recvReady  chan struct{} // Closed once recvStream is set
}

func newStreamConnection(conn quic.Connection, h *Host) *streamConnection {
	sc := &streamConnection{
		conn:      conn,
		host:      h,
		recvReady: make(chan struct{}),
	}
	go sc.acceptStream()
	return sc
}

func (sc *streamConnection) acceptStream() {
	stream, err := sc.conn.AcceptStream(sc.conn.Context())
	if err != nil {
		return
	}
	sc.recvStream = stream
	close(sc.recvReady)
}

func (sc *streamConnection) Send(buf []byte) error {
	if len(buf) > maxStreamFrame {
		return fmt.Errorf("%w: %d bytes, stream frames carry at most %d", ErrFrameTooLarge, len(buf), maxStreamFrame)
	}

	sc.sendMutex.Lock()
	defer sc.sendMutex.Unlock()

	if sc.sendStream == nil {
		stream, err := sc.conn.OpenStreamSync(sc.conn.Context())
		if err != nil {
			return err
		}
		sc.sendStream = stream
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(buf)))
	if _, err := sc.sendStream.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := sc.sendStream.Write(buf); err != nil {
		return err
	}
	sc.host.bytesSent.Add(uint64(len(prefix) + len(buf)))
	return nil
}

func (sc *streamConnection) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-sc.recvReady:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Reads are unblocked by a deadline once ctx is done
	sc.recvStream.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		sc.recvStream.SetReadDeadline(time.Now())
	})
	defer stop()

	var prefix [4]byte
	if _, err := io.ReadFull(sc.recvStream, prefix[:]); err != nil {
		return nil, streamError(ctx, err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxStreamFrame {
		return nil, fmt.Errorf("stream frame of %d bytes exceeds the %d byte limit", length, maxStreamFrame)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(sc.recvStream, buf); err != nil {
		return nil, streamError(ctx, err)
	}
	sc.host.bytesReceived.Add(uint64(len(prefix) + len(buf)))
	return buf, nil
}

func streamError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (sc *streamConnection) LocalAddr() net.Addr {
	return sc.conn.LocalAddr()
}

func (sc *streamConnection) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}

func (sc *streamConnection) Close() error {
	return sc.conn.CloseWithError(0, "")
}
