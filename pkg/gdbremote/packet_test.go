package gdbremote

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stream struct {
	io.Reader
	io.Writer
}

func testLog() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// frame builds a wire frame with a correct checksum around an already
// encoded body.
func frame(marker byte, body string) string {
	sum := Checksum([]byte(body))
	return string(marker) + body + "#" + string(hexdigit[sum>>4]) + string(hexdigit[sum&0xf])
}

func newTestConn(input string, opts ...ConnOption) (*Conn, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return NewConn(stream{strings.NewReader(input), out}, testLog(), opts...), out
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0), Checksum(nil))
	assert.Equal(t, byte(0x9a), Checksum([]byte("OK")))
	assert.Equal(t, byte(0x98), Checksum([]byte("Stop:S05")))
	assert.Equal(t, byte(0x01), Checksum([]byte{0xff, 0x01, 0x01}), "modulo 256")
}

func TestAppendPacket(t *testing.T) {
	tests := []struct {
		name     string
		kind     PacketKind
		payload  string
		compress bool
		want     string
	}{
		{name: "reply", kind: PacketCommand, payload: "OK", want: "$OK#9a"},
		{name: "empty", kind: PacketCommand, payload: "", want: "$#00"},
		{name: "notification", kind: PacketNotification, payload: "Stop:S05", want: "%Stop:S05#98"},
		{name: "escaped", kind: PacketCommand, payload: "a$b#c}d*", want: frame('$', "a}\x04b}\x03c}]d}\x0a")},
		{name: "short run kept", kind: PacketCommand, payload: "000", compress: true, want: frame('$', "000")},
		{name: "shortest run", kind: PacketCommand, payload: "0000", compress: true, want: frame('$', "0* ")},
		{name: "longest run", kind: PacketCommand, payload: strings.Repeat("0", 98), compress: true, want: frame('$', "0*~")},
		{name: "run split", kind: PacketCommand, payload: strings.Repeat("0", 99), compress: true, want: frame('$', "0*~0")},
		{name: "count avoids hash", kind: PacketCommand, payload: strings.Repeat("0", 7), compress: true, want: frame('$', "0*\"0")},
		{name: "count avoids dollar", kind: PacketCommand, payload: strings.Repeat("0", 8), compress: true, want: frame('$', "0*\"00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendPacket(nil, tt.kind, []byte(tt.payload), tt.compress)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestReadPacketRunLength(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "minimum count", body: "x0* y", want: "x0000y"},
		{name: "maximum count", body: "0*~", want: strings.Repeat("0", 98)},
		{name: "zero repeats", body: "0*\x1d", want: "0"},
		{name: "run of escaped byte", body: "}\x04* ", want: "$\x04\x04\x04"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestConn(frame('$', tt.body))
			pkt, err := c.ReadPacket()
			require.NoError(t, err)
			assert.Equal(t, PacketCommand, pkt.Kind)
			assert.Equal(t, tt.want, string(pkt.Payload))
		})
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	for n := 1; n <= 200; n++ {
		payload := "a" + strings.Repeat("7", n) + "}" + strings.Repeat("$", n%5)
		c, _ := newTestConn(string(AppendPacket(nil, PacketCommand, []byte(payload), true)))
		pkt, err := c.ReadPacket()
		require.NoError(t, err, "run of %d", n)
		require.Equal(t, payload, string(pkt.Payload), "run of %d", n)
	}
}

func TestReadPacketMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "repeat without previous byte", body: "*!"},
		{name: "repeat without count", body: "0*"},
		{name: "count below offset", body: "0*\x10"},
		{name: "dangling escape", body: "ab}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, out := newTestConn(frame('$', tt.body) + "$OK#9a")
			_, err := c.ReadPacket()
			assert.ErrorIs(t, err, ErrMalformed)
			assert.True(t, isProtocolError(err))

			pkt, err := c.ReadPacket()
			require.NoError(t, err)
			assert.Equal(t, "OK", string(pkt.Payload))
			assert.Equal(t, "++", out.String(), "checksum was fine, both frames acked")
		})
	}
}

func TestReadPacketChecksum(t *testing.T) {
	c, out := newTestConn("$OK#00$OK#9a")

	pkt, err := c.ReadPacket()
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Nil(t, pkt.Payload)
	assert.Equal(t, "-", out.String())

	pkt, err = c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "OK", string(pkt.Payload))
	assert.Equal(t, "-+", out.String())
}

func TestReadPacketChecksumIsOverWireBytes(t *testing.T) {
	// the checksum of the expanded payload would be different
	body := "0* "
	c, _ := newTestConn(frame('$', body))
	pkt, err := c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "0000", string(pkt.Payload))

	c, _ = newTestConn(fmt.Sprintf("$0000#%02x", Checksum([]byte(body))))
	_, err = c.ReadPacket()
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestReadPacketNoAck(t *testing.T) {
	c, out := newTestConn("$OK#00$OK#9a")
	c.SetAck(false)

	_, err := c.ReadPacket()
	assert.ErrorIs(t, err, ErrChecksum)
	_, err = c.ReadPacket()
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestReadPacketResync(t *testing.T) {
	c, out := newTestConn("garbage\n$abc$OK#9a")
	pkt, err := c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, PacketCommand, pkt.Kind)
	assert.Equal(t, "OK", string(pkt.Payload))
	assert.Equal(t, "+", out.String())
}

func TestReadPacketKinds(t *testing.T) {
	c, out := newTestConn("+-\x03%Stop:S05#98")

	kinds := []PacketKind{PacketAck, PacketNack, PacketInterrupt, PacketNotification}
	for _, want := range kinds {
		pkt, err := c.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, want, pkt.Kind)
	}

	_, err := c.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, out.String(), "notifications are never acknowledged")
}

func TestEscapeRoundTrip(t *testing.T) {
	payload := []byte("X1000,4:$#}*")
	payload = append(payload, 0x00, 0x03, 0xff)

	c, _ := newTestConn(string(AppendPacket(nil, PacketCommand, payload, false)))
	pkt, err := c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, payload, pkt.Payload)
}

func TestRetransmit(t *testing.T) {
	c, out := newTestConn("", WithMaxRetransmits(2))
	require.NoError(t, c.WritePacket([]byte("OK")))
	require.NoError(t, c.Retransmit())
	require.NoError(t, c.Retransmit())
	assert.ErrorIs(t, c.Retransmit(), ErrTooManyAttempts)
	assert.Equal(t, strings.Repeat("$OK#9a", 3), out.String())

	out.Reset()
	require.NoError(t, c.WritePacket([]byte("S05")))
	c.Acked()
	require.NoError(t, c.Retransmit())
	assert.Equal(t, frame('$', "S05"), out.String())
}

func TestWriteNotification(t *testing.T) {
	c, out := newTestConn("")
	require.NoError(t, c.WriteNotification([]byte("Stop:S05")))
	assert.Equal(t, "%Stop:S05#98", out.String())

	// notifications are not retransmitted
	require.NoError(t, c.Retransmit())
	assert.Equal(t, "%Stop:S05#98", out.String())
}
