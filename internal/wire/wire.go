// Package wire implements the length-prefixed binary message protocol used
// between clients, the coordinator, and replica servers.
//
// Framing: a 4-byte big-endian length prefix, followed by that many bytes
// of message body. The body starts with a 1-byte message type, then a
// 1-byte presence bitmap, then each present field as a 4-byte big-endian
// length followed by that many raw bytes. Absent fields are not
// transmitted at all, matching the design's "field absence is
// significant" rule.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dreamware/kvring/internal/kverr"
)

// Type identifies the kind of message carried by a frame.
type Type uint8

const (
	GetReq Type = iota + 1
	PutReq
	DelReq
	GetResp
	Resp
	Ack
	Abort
	Commit
	VoteCommit
	VoteAbort
	Register
	Info
)

func (t Type) String() string {
	switch t {
	case GetReq:
		return "GETREQ"
	case PutReq:
		return "PUTREQ"
	case DelReq:
		return "DELREQ"
	case GetResp:
		return "GETRESP"
	case Resp:
		return "RESP"
	case Ack:
		return "ACK"
	case Abort:
		return "ABORT"
	case Commit:
		return "COMMIT"
	case VoteCommit:
		return "VOTE_COMMIT"
	case VoteAbort:
		return "VOTE_ABORT"
	case Register:
		return "REGISTER"
	case Info:
		return "INFO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

func validType(t Type) bool { return t >= GetReq && t <= Info }

const (
	flagKey = 1 << iota
	flagValue
	flagMessage
)

// MaxFrameLen bounds a single frame's body so a corrupt length prefix
// cannot make the reader allocate unbounded memory. It comfortably fits
// the largest legal message (two 1024-byte fields plus a short message).
const MaxFrameLen = 1 << 20 // 1 MiB

// Message is the in-memory representation of one protocol frame. Key and
// Value are nil when absent, and Message is empty when absent; an
// empty-but-present Key or Value would be represented by a non-nil
// zero-length slice, though no current message type needs that distinction.
type Message struct {
	Key     []byte
	Value   []byte
	Message string
	Type    Type
}

// HasKey, HasValue, and HasMessage report field presence independent of
// Go's nil-vs-empty-slice ambiguity for Key/Value.
func (m *Message) HasKey() bool     { return m.Key != nil }
func (m *Message) HasValue() bool   { return m.Value != nil }
func (m *Message) HasMessage() bool { return m.Message != "" }

// Encode serializes m into a complete frame (length prefix + body).
func Encode(m *Message) ([]byte, error) {
	if !validType(m.Type) {
		return nil, kverr.New(kverr.KindInvalidRequest)
	}

	var flags byte
	if m.HasKey() {
		flags |= flagKey
	}
	if m.HasValue() {
		flags |= flagValue
	}
	if m.HasMessage() {
		flags |= flagMessage
	}

	bodyLen := 2
	if m.HasKey() {
		bodyLen += 4 + len(m.Key)
	}
	if m.HasValue() {
		bodyLen += 4 + len(m.Value)
	}
	if m.HasMessage() {
		bodyLen += 4 + len(m.Message)
	}

	buf := make([]byte, 4+bodyLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(bodyLen))
	buf[4] = byte(m.Type)
	buf[5] = flags

	pos := 6
	if m.HasKey() {
		pos = putField(buf, pos, m.Key)
	}
	if m.HasValue() {
		pos = putField(buf, pos, m.Value)
	}
	if m.HasMessage() {
		pos = putField(buf, pos, []byte(m.Message))
	}

	return buf, nil
}

func putField(buf []byte, pos int, data []byte) int {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(data)))
	pos += 4
	copy(buf[pos:], data)
	return pos + len(data)
}

// WriteTo encodes m and writes the frame to w in a single Write call.
func WriteTo(w io.Writer, m *Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	if err != nil {
		return kverr.Wrap(kverr.KindTransport, err)
	}
	return nil
}

// ReadFrom reads one complete frame from r and decodes it. A short read,
// a truncated body, an oversized length prefix, or an unparseable body all
// fail with KindInvalidRequest (or KindTransport for the underlying I/O
// error itself), matching the design's "fails on short read, truncated
// body, or unparseable content" rule.
func ReadFrom(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, decodeReadErr(err)
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	if bodyLen < 2 || bodyLen > MaxFrameLen {
		return nil, kverr.New(kverr.KindInvalidRequest)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, decodeReadErr(err)
	}

	return decodeBody(body)
}

func decodeReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return kverr.New(kverr.KindInvalidRequest)
	}
	return kverr.Wrap(kverr.KindTransport, err)
}

func decodeBody(body []byte) (*Message, error) {
	if len(body) < 2 {
		return nil, kverr.New(kverr.KindInvalidRequest)
	}
	t := Type(body[0])
	if !validType(t) {
		return nil, kverr.New(kverr.KindInvalidRequest)
	}
	flags := body[1]
	m := &Message{Type: t}

	pos := 2
	var err error
	if flags&flagKey != 0 {
		m.Key, pos, err = getField(body, pos)
		if err != nil {
			return nil, err
		}
	}
	if flags&flagValue != 0 {
		m.Value, pos, err = getField(body, pos)
		if err != nil {
			return nil, err
		}
	}
	if flags&flagMessage != 0 {
		var raw []byte
		raw, pos, err = getField(body, pos)
		if err != nil {
			return nil, err
		}
		m.Message = string(raw)
	}
	if pos != len(body) {
		return nil, kverr.New(kverr.KindInvalidRequest)
	}
	return m, nil
}

func getField(body []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(body) {
		return nil, 0, kverr.New(kverr.KindInvalidRequest)
	}
	n := int(binary.BigEndian.Uint32(body[pos : pos+4]))
	pos += 4
	if n < 0 || pos+n > len(body) {
		return nil, 0, kverr.New(kverr.KindInvalidRequest)
	}
	out := make([]byte, n)
	copy(out, body[pos:pos+n])
	return out, pos + n, nil
}
