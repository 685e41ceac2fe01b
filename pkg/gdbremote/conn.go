package gdbremote

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// wire trace lines are cut after this many bytes
const wireMaxLen = 120

// Conn frames packets over a byte stream.
//
// ReadPacket is meant to be called from one goroutine and the Write methods
// from another; the only state they share is the acknowledgement mode.
type Conn struct {
	rw  io.ReadWriter
	rdr *bufio.Reader
	log *logrus.Entry

	ack            *atomic.Bool
	compress       bool
	wire           bool
	maxRetransmits int

	wmu      sync.Mutex
	last     []byte // last reply frame, kept for retransmission
	attempts int
	inbuf    []byte
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithCompression run-length encodes outgoing replies.
func WithCompression(on bool) ConnOption {
	return func(c *Conn) { c.compress = on }
}

// WithMaxRetransmits bounds how often one reply is sent again on '-'.
func WithMaxRetransmits(n int) ConnOption {
	return func(c *Conn) { c.maxRetransmits = n }
}

// WithWireTrace logs every packet in and out at debug level.
func WithWireTrace(on bool) ConnOption {
	return func(c *Conn) { c.wire = on }
}

// NewConn returns a Conn over rw with acknowledgements enabled.
func NewConn(rw io.ReadWriter, log *logrus.Entry, opts ...ConnOption) *Conn {
	c := &Conn{
		rw:             rw,
		rdr:            bufio.NewReader(rw),
		log:            log.WithField("component", "wire"),
		ack:            atomic.NewBool(true),
		maxRetransmits: 3,
		inbuf:          make([]byte, 0, 256),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAck turns the acknowledgement handshake on or off.
func (c *Conn) SetAck(on bool) {
	c.ack.Store(on)
}

func (c *Conn) Ack() bool {
	return c.ack.Load()
}

// Close closes the underlying stream if it can be closed.
func (c *Conn) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// ReadPacket returns the next item from the stream. Bytes outside a frame
// that mean nothing are dropped. While acknowledgements are enabled, command
// frames are answered with '+' or '-' before ReadPacket returns.
//
// A frame with a bad checksum returns ErrChecksum, one that cannot be
// decoded ErrMalformed; both leave the stream usable.
func (c *Conn) ReadPacket() (Packet, error) {
	for {
		b, err := c.rdr.ReadByte()
		if err != nil {
			return Packet{}, err
		}
		switch b {
		case '+':
			return Packet{Kind: PacketAck}, nil
		case '-':
			return Packet{Kind: PacketNack}, nil
		case interruptByte:
			c.trace("-> ^C")
			return Packet{Kind: PacketInterrupt}, nil
		case '$', '%':
			return c.readFrame(b)
		default:
			c.trace("-> discard %q", b)
		}
	}
}

func (c *Conn) readFrame(start byte) (Packet, error) {
	raw := c.inbuf[:0]
	for {
		b, err := c.rdr.ReadByte()
		if err != nil {
			return Packet{}, err
		}
		if b == '#' {
			break
		}
		if b == '$' || b == '%' {
			// unterminated frame, resync on the new start marker
			c.trace("-> drop partial %s", truncate(raw))
			start, raw = b, raw[:0]
			continue
		}
		raw = append(raw, b)
	}
	c.inbuf = raw

	var sum [2]byte
	if _, err := io.ReadFull(c.rdr, sum[:]); err != nil {
		return Packet{}, err
	}
	c.trace("-> %c%s#%s", start, truncate(raw), sum[:])

	kind := PacketCommand
	if start == '%' {
		kind = PacketNotification
	}
	acked := kind == PacketCommand && c.ack.Load()

	if !checksumOK(raw, sum[:]) {
		if acked {
			if err := c.sendAck('-'); err != nil {
				return Packet{}, err
			}
		}
		return Packet{Kind: kind}, fmt.Errorf("%w: %c%s#%s", ErrChecksum, start, truncate(raw), sum[:])
	}
	if acked {
		if err := c.sendAck('+'); err != nil {
			return Packet{}, err
		}
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return Packet{Kind: kind}, err
	}
	return Packet{Kind: kind, Payload: payload}, nil
}

func (c *Conn) sendAck(b byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.trace("<- %c", b)
	_, err := c.rw.Write([]byte{b})
	return err
}

// WritePacket sends a reply and keeps it for retransmission.
func (c *Conn) WritePacket(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	frame := AppendPacket(nil, PacketCommand, payload, c.compress)
	c.last, c.attempts = frame, 0
	return c.write(frame)
}

// WriteNotification sends an asynchronous notification. Notifications are
// never acknowledged and never retransmitted.
func (c *Conn) WriteNotification(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.write(AppendPacket(nil, PacketNotification, payload, c.compress))
}

// Retransmit sends the last reply again after the client answered '-'.
func (c *Conn) Retransmit() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.last == nil {
		return nil
	}
	if c.attempts >= c.maxRetransmits {
		c.last = nil
		return ErrTooManyAttempts
	}
	c.attempts++
	return c.write(c.last)
}

// Acked drops the retransmission copy once the client confirmed it.
func (c *Conn) Acked() {
	c.wmu.Lock()
	c.last = nil
	c.wmu.Unlock()
}

func (c *Conn) write(frame []byte) error {
	c.trace("<- %s", truncate(frame))
	if _, err := c.rw.Write(frame); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

func (c *Conn) trace(format string, args ...interface{}) {
	if c.wire {
		c.log.Debugf(format, args...)
	}
}

func truncate(b []byte) string {
	if len(b) > wireMaxLen {
		return string(b[:wireMaxLen]) + "..."
	}
	return string(b)
}

// isProtocolError reports errors after which the stream is still usable.
func isProtocolError(err error) bool {
	return errors.Is(err, ErrChecksum) || errors.Is(err, ErrMalformed)
}
