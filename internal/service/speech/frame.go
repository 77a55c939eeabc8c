package speech

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Volcengine speech sockets exchange binary frames: a 4-byte header,
// optional sequence and event metadata, a size-prefixed payload.

const protocolVersion = 0b0001

type frameKind uint8

const (
	kindClientRequest frameKind = 0b0001
	kindAudioRequest  frameKind = 0b0010
	kindServerReply   frameKind = 0b1001
	kindServerAudio   frameKind = 0b1011
	kindServerError   frameKind = 0b1111
)

type frameFlags uint8

const (
	flagNone     frameFlags = 0b0000
	flagSequence frameFlags = 0b0001
	flagLast     frameFlags = 0b0010
	flagLastSeq  frameFlags = 0b0011
	flagEvent    frameFlags = 0b0100
	sequenceMask frameFlags = 0b0011
)

const (
	serializeNone = 0b0000
	serializeJSON = 0b0001
	compressNone  = 0b0000
	compressGzip  = 0b0001
)

type event int32

const (
	eventStartConnection    event = 1
	eventFinishConnection   event = 2
	eventConnectionStarted  event = 50
	eventConnectionFailed   event = 51
	eventConnectionFinished event = 52
	eventSessionFinished    event = 152
)

type frame struct {
	kind          frameKind
	flags         frameFlags
	serialization uint8
	compression   uint8
	sequence      int32
	event         event
	sessionID     string
	connectID     string
	code          uint32
	payload       []byte
}

func (f frame) hasSequence() bool {
	s := f.flags & sequenceMask
	return s == flagSequence || s == flagLastSeq
}

func (f frame) last() bool {
	s := f.flags & sequenceMask
	return s == flagLast || s == flagLastSeq
}

func (f frame) hasEvent() bool { return f.flags&flagEvent != 0 }

func connectionEvent(e event) bool {
	switch e {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func (f frame) encode() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{
		protocolVersion<<4 | 1,
		uint8(f.kind)<<4 | uint8(f.flags),
		f.serialization<<4 | f.compression,
		0,
	})

	putU32 := func(v uint32) { _ = binary.Write(&buf, binary.BigEndian, v) }
	putString := func(s string) {
		putU32(uint32(len(s)))
		buf.WriteString(s)
	}

	if f.hasSequence() {
		putU32(uint32(f.sequence))
	}
	if f.hasEvent() {
		putU32(uint32(f.event))
		if !connectionEvent(f.event) {
			putString(f.sessionID)
		}
		switch f.event {
		case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
			putString(f.connectID)
		}
	}
	if f.kind == kindServerError {
		putU32(f.code)
	}
	putU32(uint32(len(f.payload)))
	buf.Write(f.payload)
	return buf.Bytes()
}

func decodeFrame(data []byte) (frame, error) {
	if len(data) < 4 {
		return frame{}, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	if v := data[0] >> 4; v != protocolVersion {
		return frame{}, fmt.Errorf("unsupported protocol version: %d", v)
	}

	f := frame{
		kind:          frameKind(data[1] >> 4),
		flags:         frameFlags(data[1] & 0x0F),
		serialization: data[2] >> 4,
		compression:   data[2] & 0x0F,
	}

	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || headerSize > len(data) {
		return frame{}, fmt.Errorf("invalid header size: %d", headerSize)
	}
	r := bytes.NewReader(data[headerSize:])

	readU32 := func(what string) (uint32, error) {
		var v uint32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return 0, fmt.Errorf("read %s: %w", what, err)
		}
		return v, nil
	}
	readString := func(what string) (string, error) {
		n, err := readU32(what + " size")
		if err != nil {
			return "", err
		}
		if int64(n) > int64(r.Len()) {
			return "", fmt.Errorf("read %s: %w", what, io.ErrUnexpectedEOF)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("read %s: %w", what, err)
		}
		return string(b), nil
	}

	if f.hasSequence() {
		seq, err := readU32("sequence")
		if err != nil {
			return frame{}, err
		}
		f.sequence = int32(seq)
	}

	if f.hasEvent() {
		ev, err := readU32("event")
		if err != nil {
			return frame{}, err
		}
		f.event = event(int32(ev))
		if !connectionEvent(f.event) {
			if f.sessionID, err = readString("session id"); err != nil {
				return frame{}, err
			}
		}
		switch f.event {
		case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
			if f.connectID, err = readString("connect id"); err != nil {
				return frame{}, err
			}
		}
	}

	if f.kind == kindServerError {
		code, err := readU32("error code")
		if err != nil {
			return frame{}, err
		}
		f.code = code
	}

	size, err := readU32("payload size")
	if err != nil {
		return frame{}, err
	}
	if int64(size) > int64(r.Len()) {
		return frame{}, fmt.Errorf("payload truncated: want %d bytes, have %d", size, r.Len())
	}
	f.payload = make([]byte, size)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return frame{}, fmt.Errorf("read payload: %w", err)
	}
	return f, nil
}

// body returns the frame payload with compression removed.
func (f frame) body() ([]byte, error) {
	switch f.compression {
	case compressNone:
		return f.payload, nil
	case compressGzip:
		return gunzip(f.payload)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", f.compression)
	}
}

func jsonRequest(payload []byte, gzipped bool) (frame, error) {
	f := frame{kind: kindClientRequest, flags: flagNone, serialization: serializeJSON, payload: payload}
	if gzipped {
		z, err := gzipBytes(payload)
		if err != nil {
			return frame{}, err
		}
		f.compression, f.payload = compressGzip, z
	}
	return f, nil
}

// audioRequest builds one audio chunk. The last chunk carries a negated
// sequence number.
func audioRequest(chunk []byte, sequence int32, last bool) (frame, error) {
	z, err := gzipBytes(chunk)
	if err != nil {
		return frame{}, err
	}
	f := frame{kind: kindAudioRequest, flags: flagSequence, serialization: serializeNone, sequence: sequence, compression: compressGzip, payload: z}
	if last {
		f.flags, f.sequence = flagLastSeq, -sequence
	}
	return f, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}

var errServerFrame = errors.New("speech server error")

// serverError turns an error frame into an error wrapping errServerFrame.
func serverError(f frame) error {
	body, err := f.body()
	if err != nil {
		body = f.payload
	}
	return fmt.Errorf("%w %d: %s", errServerFrame, f.code, string(body))
}
