package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire frame layout: two magic bytes, big-endian message id, big-endian
// payload length, payload. Backends move frames opaquely; only this codec
// knows the layout.
const (
	frameHeaderSize  = 8
	frameMagic0      = '#'
	frameMagic1      = '#'
	maxFramePayload  = 1 << 20
)

func encodeFrame(id uint16, payload []byte) []byte {
	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = frameMagic0
	frame[1] = frameMagic1
	binary.BigEndian.PutUint16(frame[2:4], id)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	return frame
}

func decodeFrameHeader(raw []byte) (id uint16, payloadLen int, err error) {
	if len(raw) < frameHeaderSize {
		return 0, 0, errors.New("frame is truncated")
	}
	if raw[0] != frameMagic0 || raw[1] != frameMagic1 {
		return 0, 0, errors.New("frame magic mismatch")
	}
	id = binary.BigEndian.Uint16(raw[2:4])
	length := binary.BigEndian.Uint32(raw[4:8])
	if length > maxFramePayload {
		return 0, 0, fmt.Errorf("frame payload of %d bytes exceeds limit", length)
	}
	return id, int(length), nil
}

func decodeFrame(raw []byte) (uint16, []byte, error) {
	id, payloadLen, err := decodeFrameHeader(raw)
	if err != nil {
		return 0, nil, err
	}
	if len(raw) < frameHeaderSize+payloadLen {
		return 0, nil, errors.New("frame is truncated")
	}
	return id, raw[frameHeaderSize : frameHeaderSize+payloadLen], nil
}
