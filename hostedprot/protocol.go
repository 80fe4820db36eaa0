package hostedprot

import (
	"encoding/binary"
	"errors"
)

var (
	errShortHeader  = errors.New("buffer shorter than payload header")
	errBadOffset    = errors.New("payload header offset mismatch")
	errOversized    = errors.New("declared payload length exceeds frame")
	errBadChecksum  = errors.New("payload checksum mismatch")
	errShortPayload = errors.New("buffer shorter than declared payload")
)

// PayloadHeader prefixes every frame exchanged over the bus. All multibyte
// fields are little endian on the wire, matching the slave firmware.
type PayloadHeader struct {
	IfTypeAndNum uint8  // 4 LSB interface type, 4 MSB interface number.
	Flags        uint8  // reserved for flow control, zero in this protocol version.
	Len          uint16 // payload length, excludes header.
	Offset       uint16 // payload offset from frame start. Always PayloadHeaderLen.
	Checksum     uint16 // 16-bit byte sum of header (checksum zeroed) and payload.
	Seq          uint16 // frame sequence number, informational.
	Reserved     [2]uint8
}

func (h PayloadHeader) IfType() InterfaceType { return InterfaceType(h.IfTypeAndNum & 0xf) }
func (h PayloadHeader) IfNum() uint8          { return h.IfTypeAndNum >> 4 }

// NewPayloadHeader returns a header for a payload of n bytes on interface it.
// Checksum is left zero; Put of the full frame is expected to set it.
func NewPayloadHeader(it InterfaceType, n int, seq uint16) PayloadHeader {
	return PayloadHeader{
		IfTypeAndNum: uint8(it) & 0xf,
		Len:          uint16(n),
		Offset:       PayloadHeaderLen,
		Seq:          seq,
	}
}

// Put puts all 12 bytes of the payload header in dst. Panics if dst is
// shorter than 12 bytes in length.
func (h *PayloadHeader) Put(order binary.ByteOrder, dst []byte) {
	_ = dst[PayloadHeaderLen-1]
	dst[0] = h.IfTypeAndNum
	dst[1] = h.Flags
	order.PutUint16(dst[2:], h.Len)
	order.PutUint16(dst[4:], h.Offset)
	order.PutUint16(dst[6:], h.Checksum)
	order.PutUint16(dst[8:], h.Seq)
	copy(dst[10:], h.Reserved[:])
}

func DecodePayloadHeader(order binary.ByteOrder, b []byte) (hdr PayloadHeader) {
	_ = b[PayloadHeaderLen-1]
	hdr.IfTypeAndNum = b[0]
	hdr.Flags = b[1]
	hdr.Len = order.Uint16(b[2:])
	hdr.Offset = order.Uint16(b[4:])
	hdr.Checksum = order.Uint16(b[6:])
	hdr.Seq = order.Uint16(b[8:])
	copy(hdr.Reserved[:], b[10:])
	return hdr
}

// IsEmpty reports whether the header corresponds to an idle transfer, i.e.
// the slave clocked out zeros because it had nothing to send.
func (h PayloadHeader) IsEmpty() bool {
	return h.IfTypeAndNum == 0 && h.Len == 0 && h.Offset == 0 && h.Checksum == 0
}

// PutFrame assembles a complete frame (header+payload) into dst and computes
// the checksum. Returns the total frame length.
func PutFrame(order binary.ByteOrder, dst []byte, it InterfaceType, seq uint16, payload []byte) (int, error) {
	total := PayloadHeaderLen + len(payload)
	if len(payload) > MaxPayloadLen || total > len(dst) {
		return 0, errOversized
	}
	hdr := NewPayloadHeader(it, len(payload), seq)
	hdr.Put(order, dst[:PayloadHeaderLen])
	copy(dst[PayloadHeaderLen:], payload)
	csum := Checksum16(dst[:total])
	order.PutUint16(dst[6:], csum)
	return total, nil
}

// ParseFrame validates a received frame and returns its header and payload.
// The payload aliases b; no copy is made. A frame failing validation must be
// discarded whole: the error reports why.
func ParseFrame(order binary.ByteOrder, b []byte) (hdr PayloadHeader, payload []byte, err error) {
	if len(b) < PayloadHeaderLen {
		return hdr, nil, errShortHeader
	}
	hdr = DecodePayloadHeader(order, b)
	if hdr.IsEmpty() {
		return hdr, nil, nil // Idle transfer, no frame.
	}
	switch {
	case hdr.Offset != PayloadHeaderLen:
		err = errBadOffset
	case int(hdr.Len) > MaxPayloadLen:
		err = errOversized
	case int(hdr.Offset)+int(hdr.Len) > len(b):
		err = errShortPayload
	}
	if err != nil {
		return hdr, nil, err
	}
	payload = b[hdr.Offset : int(hdr.Offset)+int(hdr.Len)]
	want := hdr.Checksum
	// Checksum is computed with its own field zeroed.
	order.PutUint16(b[6:], 0)
	got := Checksum16(b[:int(hdr.Offset)+int(hdr.Len)])
	order.PutUint16(b[6:], want)
	if got != want {
		return hdr, nil, errBadChecksum
	}
	return hdr, payload, nil
}

// Checksum16 is the 16-bit wraparound byte sum used by the slave firmware.
func Checksum16(b []byte) (sum uint16) {
	for _, c := range b {
		sum += uint16(c)
	}
	return sum
}
