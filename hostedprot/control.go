package hostedprot

import (
	"encoding/binary"
	"errors"
)

var (
	errShortTLV     = errors.New("serial payload shorter than TLV record")
	errBadTLVType   = errors.New("unexpected TLV record type")
	errShortCtrl    = errors.New("control message shorter than header")
	errCtrlBodyLen  = errors.New("control body length exceeds message")
	errBadCtrlKind  = errors.New("invalid control message kind")
	errSSIDTooLong  = errors.New("ssid exceeds maximum length")
	errPassTooLong  = errors.New("passphrase exceeds maximum length")
	errShortMACBody = errors.New("control body too short for mac address")
)

// ControlMessage is one command, response or event on the serial interface.
// ID carries a MessageID for requests/responses and an EventID for events.
type ControlMessage struct {
	Kind   MessageKind
	ID     uint8
	Seq    uint16 // correlation identifier, echoed by the response.
	Status int32  // result code for responses, StatusOK on success.
	Body   []byte
}

// PutTLV assembles the full serial payload for the message into dst: the
// endpoint-name TLV record followed by the data TLV record holding the
// encoded message. Returns total bytes written.
func (m *ControlMessage) PutTLV(order binary.ByteOrder, dst []byte) (int, error) {
	var endpoint string
	switch m.Kind {
	case KindRequest:
		endpoint = EndpointCtrlRequest
	case KindResponse:
		endpoint = EndpointCtrlResponse
	case KindEvent:
		endpoint = EndpointCtrlEvent
	default:
		return 0, errBadCtrlKind
	}
	msglen := ControlHeaderLen + len(m.Body)
	total := 3 + len(endpoint) + 3 + msglen
	if total > len(dst) {
		return 0, errCtrlBodyLen
	}
	dst[0] = TLVTypeEndpointName
	order.PutUint16(dst[1:], uint16(len(endpoint)))
	n := 3 + copy(dst[3:], endpoint)
	dst[n] = TLVTypeData
	order.PutUint16(dst[n+1:], uint16(msglen))
	n += 3
	dst[n] = uint8(m.Kind)
	dst[n+1] = m.ID
	order.PutUint16(dst[n+2:], m.Seq)
	order.PutUint32(dst[n+4:], uint32(m.Status))
	order.PutUint16(dst[n+8:], uint16(len(m.Body)))
	n += ControlHeaderLen
	n += copy(dst[n:], m.Body)
	return n, nil
}

// ParseTLV unwraps a serial payload into its endpoint name and the encoded
// control message inside the data record. The returned slices alias b.
func ParseTLV(order binary.ByteOrder, b []byte) (endpoint, msg []byte, err error) {
	if len(b) < 3 {
		return nil, nil, errShortTLV
	}
	if b[0] != TLVTypeEndpointName {
		return nil, nil, errBadTLVType
	}
	eplen := int(order.Uint16(b[1:]))
	if len(b) < 3+eplen+3 {
		return nil, nil, errShortTLV
	}
	endpoint = b[3 : 3+eplen]
	rest := b[3+eplen:]
	if rest[0] != TLVTypeData {
		return nil, nil, errBadTLVType
	}
	msglen := int(order.Uint16(rest[1:]))
	if len(rest) < 3+msglen {
		return nil, nil, errShortTLV
	}
	return endpoint, rest[3 : 3+msglen], nil
}

// DecodeControlMessage decodes the fixed header and body of a control
// message. Body aliases b.
func DecodeControlMessage(order binary.ByteOrder, b []byte) (m ControlMessage, err error) {
	if len(b) < ControlHeaderLen {
		return m, errShortCtrl
	}
	m.Kind = MessageKind(b[0])
	m.ID = b[1]
	m.Seq = order.Uint16(b[2:])
	m.Status = int32(order.Uint32(b[4:]))
	bodylen := int(order.Uint16(b[8:]))
	if !m.Kind.IsValid() {
		return m, errBadCtrlKind
	}
	if ControlHeaderLen+bodylen > len(b) {
		return m, errCtrlBodyLen
	}
	m.Body = b[ControlHeaderLen : ControlHeaderLen+bodylen]
	return m, nil
}

// PutConnectBody encodes the credentials body of a connect-AP request.
func PutConnectBody(dst []byte, ssid, passphrase string) (int, error) {
	if len(ssid) > MaxSSIDLen {
		return 0, errSSIDTooLong
	}
	if len(passphrase) > MaxPassphraseLen {
		return 0, errPassTooLong
	}
	if len(dst) < 2+len(ssid)+len(passphrase) {
		return 0, errCtrlBodyLen
	}
	dst[0] = uint8(len(ssid))
	n := 1 + copy(dst[1:], ssid)
	dst[n] = uint8(len(passphrase))
	n++
	n += copy(dst[n:], passphrase)
	return n, nil
}

// ParseConnectBody decodes the credentials body of a connect-AP request.
func ParseConnectBody(b []byte) (ssid, passphrase string, err error) {
	if len(b) < 2 {
		return "", "", errShortCtrl
	}
	slen := int(b[0])
	if len(b) < 1+slen+1 {
		return "", "", errShortCtrl
	}
	ssid = string(b[1 : 1+slen])
	plen := int(b[1+slen])
	if len(b) < 2+slen+plen {
		return "", "", errShortCtrl
	}
	passphrase = string(b[2+slen : 2+slen+plen])
	return ssid, passphrase, nil
}

// ParseMACBody decodes a 6-byte hardware address body as carried by
// init-done events and get-mac responses.
func ParseMACBody(b []byte) (mac [6]byte, err error) {
	if len(b) < 6 {
		return mac, errShortMACBody
	}
	copy(mac[:], b)
	return mac, nil
}
