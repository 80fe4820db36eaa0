// package hostedprot implements the ESP-Hosted SPI slave controller interface API.
package hostedprot

const (
	// MaxFrameLen is the fixed size of a single SPI transfer. Both directions
	// exchange exactly this many bytes per bus transaction.
	MaxFrameLen = 1600
	// PayloadHeaderLen is the length of the header prefixed to every frame.
	PayloadHeaderLen = 12
	// MaxPayloadLen bounds the byte payload carried by one frame.
	MaxPayloadLen = MaxFrameLen - PayloadHeaderLen
	// ControlHeaderLen is the length of the fixed portion of a control message.
	ControlHeaderLen = 10
)

// InterfaceType discriminates what layer a frame's payload belongs to.
type InterfaceType uint8

const (
	// Station (data plane) traffic: raw Ethernet frames.
	IfaceSta InterfaceType = 0
	// Access point traffic. Unused in station-only operation.
	IfaceAP InterfaceType = 1
	// Serial (control plane) traffic: TLV wrapped control messages.
	IfaceSerial InterfaceType = 2
	// Bluetooth HCI traffic.
	IfaceHCI InterfaceType = 3
	// Private communication between host driver and slave firmware.
	IfacePriv InterfaceType = 4
	// Test interface used by slave firmware self tests.
	IfaceTest InterfaceType = 5

	ifaceMax = IfaceTest
)

func (it InterfaceType) IsValid() bool { return it <= ifaceMax }

func (it InterfaceType) String() (s string) {
	switch it {
	case IfaceSta:
		s = "sta"
	case IfaceAP:
		s = "ap"
	case IfaceSerial:
		s = "serial"
	case IfaceHCI:
		s = "hci"
	case IfacePriv:
		s = "priv"
	case IfaceTest:
		s = "test"
	default:
		s = "unknown"
	}
	return s
}

// Serial endpoint names carried in the TLV envelope.
const (
	EndpointCtrlRequest  = "ctrlReq"
	EndpointCtrlResponse = "ctrlResp"
	EndpointCtrlEvent    = "ctrlEvnt"
)

// TLV record types inside a serial payload.
const (
	TLVTypeEndpointName = 1
	TLVTypeData         = 2
)

// MessageKind is the direction/class discriminant of a control message.
type MessageKind uint8

const (
	KindRequest  MessageKind = 1
	KindResponse MessageKind = 2
	KindEvent    MessageKind = 3
)

func (k MessageKind) IsValid() bool { return k >= KindRequest && k <= KindEvent }

func (k MessageKind) String() (s string) {
	switch k {
	case KindRequest:
		s = "req"
	case KindResponse:
		s = "resp"
	case KindEvent:
		s = "event"
	default:
		s = "unknown"
	}
	return s
}

// MessageID identifies a control command. Requests and their matching
// responses carry the same ID.
type MessageID uint8

const (
	MsgInit         MessageID = 1
	MsgConnectAP    MessageID = 2
	MsgDisconnectAP MessageID = 3
	MsgGetMAC       MessageID = 4
)

func (id MessageID) IsValid() bool { return id >= MsgInit && id <= MsgGetMAC }

func (id MessageID) String() (s string) {
	switch id {
	case MsgInit:
		s = "init"
	case MsgConnectAP:
		s = "connect-ap"
	case MsgDisconnectAP:
		s = "disconnect-ap"
	case MsgGetMAC:
		s = "get-mac"
	default:
		s = "unknown"
	}
	return s
}

// EventID identifies an unsolicited event message from the slave.
type EventID uint8

const (
	EvInitDone            EventID = 1
	EvStationConnected    EventID = 2
	EvStationDisconnected EventID = 3
)

func (ev EventID) String() (s string) {
	switch ev {
	case EvInitDone:
		s = "init-done"
	case EvStationConnected:
		s = "station-connected"
	case EvStationDisconnected:
		s = "station-disconnected"
	default:
		s = "unknown"
	}
	return s
}

// Control message response status codes.
const (
	StatusOK           = 0
	StatusFail         = 1
	StatusInvalidArg   = 2
	StatusOutOfRange   = 3
	StatusNotConnected = 4
)

// Limits on credential lengths in a connect-AP request body.
const (
	MaxSSIDLen       = 32
	MaxPassphraseLen = 64
)
