// Package gdbremote implements the stub side of the GDB remote serial
// protocol: the packet codec, the protocol session that answers one command
// at a time, and the server loop that ties the session to a debuggee.
package gdbremote

import (
	"errors"
	"fmt"
)

// PacketKind tells what ReadPacket found on the wire.
type PacketKind int

const (
	PacketCommand      PacketKind = iota // $payload#xx
	PacketNotification                   // %payload#xx
	PacketInterrupt                      // 0x03
	PacketAck                            // +
	PacketNack                           // -
)

func (k PacketKind) String() string {
	switch k {
	case PacketCommand:
		return "command"
	case PacketNotification:
		return "notification"
	case PacketInterrupt:
		return "interrupt"
	case PacketAck:
		return "ack"
	case PacketNack:
		return "nack"
	default:
		return fmt.Sprintf("PacketKind(%d)", int(k))
	}
}

// Packet is one decoded item of the byte stream. Payload is only set for
// commands and notifications.
type Packet struct {
	Kind    PacketKind
	Payload []byte
}

var (
	ErrChecksum        = errors.New("gdbremote: checksum mismatch")
	ErrMalformed       = errors.New("gdbremote: malformed packet")
	ErrTooManyAttempts = errors.New("gdbremote: too many transmit attempts")
)

const (
	interruptByte = 0x03

	// escapeXor is the value escaped bytes are xor'ed with
	escapeXor byte = 0x20

	// run-length count bytes are offset by this value
	rleOffset = 29
	minRun    = 4
	maxRun    = 98
)

var hexdigit = []byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

// Checksum returns the sum of the bytes of p modulo 256.
func Checksum(p []byte) byte {
	var sum byte
	for _, b := range p {
		sum += b
	}
	return sum
}

func needsEscape(b byte) bool {
	return b == '$' || b == '#' || b == '}' || b == '*'
}

// AppendPacket appends the framed payload to dst. Notifications use the
// '%' start marker, everything else '$'. With compress set, runs of equal
// bytes are run-length encoded.
func AppendPacket(dst []byte, kind PacketKind, payload []byte, compress bool) []byte {
	start := byte('$')
	if kind == PacketNotification {
		start = '%'
	}
	dst = append(dst, start)
	body := len(dst)

	escaped := escape(nil, payload)
	if compress {
		dst = appendCompressed(dst, escaped)
	} else {
		dst = append(dst, escaped...)
	}

	sum := Checksum(dst[body:])
	return append(dst, '#', hexdigit[sum>>4], hexdigit[sum&0xf])
}

func escape(dst, payload []byte) []byte {
	for _, b := range payload {
		if needsEscape(b) {
			dst = append(dst, '}', b^escapeXor)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// appendCompressed run-length encodes escaped into dst. A run is only
// encoded when it is at least minRun long, and never with a count byte that
// reads as a frame marker.
func appendCompressed(dst, escaped []byte) []byte {
	for i := 0; i < len(escaped); {
		b := escaped[i]
		run := 1
		for i+run < len(escaped) && escaped[i+run] == b && run < maxRun {
			run++
		}
		i += run

		dst = append(dst, b)
		run--
		for run > 0 {
			if run+1 < minRun {
				for ; run > 0; run-- {
					dst = append(dst, b)
				}
				break
			}
			n := run
			if c := byte(n + rleOffset); c == '#' || c == '$' {
				// '#' and '$' would end or restart the frame
				n = '"' - rleOffset
			}
			dst = append(dst, '*', byte(n+rleOffset))
			run -= n
			if run > 0 {
				dst = append(dst, b)
				run--
			}
		}
	}
	return dst
}

// decodePayload expands run-length encoding in the raw frame body, then
// resolves escapes.
func decodePayload(raw []byte) ([]byte, error) {
	expanded := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b != '*' {
			expanded = append(expanded, b)
			continue
		}
		if len(expanded) == 0 {
			return nil, fmt.Errorf("%w: run-length marker at start", ErrMalformed)
		}
		if i+1 >= len(raw) {
			return nil, fmt.Errorf("%w: run-length marker without count", ErrMalformed)
		}
		i++
		if raw[i] < rleOffset {
			return nil, fmt.Errorf("%w: run-length count %#x", ErrMalformed, raw[i])
		}
		prev := expanded[len(expanded)-1]
		for n := int(raw[i]) - rleOffset; n > 0; n-- {
			expanded = append(expanded, prev)
		}
	}

	out := expanded[:0]
	for i := 0; i < len(expanded); i++ {
		b := expanded[i]
		if b != '}' {
			out = append(out, b)
			continue
		}
		if i+1 >= len(expanded) {
			return nil, fmt.Errorf("%w: dangling escape", ErrMalformed)
		}
		i++
		out = append(out, expanded[i]^escapeXor)
	}
	return out, nil
}

func checksumOK(raw []byte, sum []byte) bool {
	want, ok := parseHexByte(sum)
	return ok && want == Checksum(raw)
}

func parseHexByte(b []byte) (byte, bool) {
	if len(b) != 2 {
		return 0, false
	}
	hi, ok1 := unhex(b[0])
	lo, ok2 := unhex(b[1])
	return hi<<4 | lo, ok1 && ok2
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
