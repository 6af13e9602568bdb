package hal

import (
	"context"
	"fmt"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants.
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
	SpeedSuper                // SuperSpeed (5 Gbit/s and above)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	case SpeedSuper:
		return "SuperSpeed"
	default:
		return "Unknown"
	}
}

// =============================================================================
// Interface Identity
// =============================================================================

// InterfaceID identifies one USB interface on the host for as long as its
// device stays attached. It packs the bus number, device address and
// interface number.
type InterfaceID uint32

// MakeInterfaceID packs a bus number, device address and interface number.
func MakeInterfaceID(bus, address, iface uint8) InterfaceID {
	return InterfaceID(uint32(bus)<<16 | uint32(address)<<8 | uint32(iface))
}

// Bus returns the bus number.
func (id InterfaceID) Bus() uint8 { return uint8(id >> 16) }

// Address returns the device address on the bus.
func (id InterfaceID) Address() uint8 { return uint8(id >> 8) }

// Interface returns the interface number.
func (id InterfaceID) Interface() uint8 { return uint8(id) }

// String formats the id as bus-address:interface, e.g. "001-004:0".
func (id InterfaceID) String() string {
	return fmt.Sprintf("%03d-%03d:%d", id.Bus(), id.Address(), id.Interface())
}

// InterfaceInfo describes an interface and its parent device.
type InterfaceInfo struct {
	ID InterfaceID

	VendorID     uint16
	ProductID    uint16
	Manufacturer string // String descriptor, may be empty
	Product      string // String descriptor, may be empty
	Serial       string // String descriptor, may be empty
	Speed        Speed

	Class    uint8 // bInterfaceClass
	Subclass uint8 // bInterfaceSubClass
	Protocol uint8 // bInterfaceProtocol

	BulkIn        uint8  // Bulk IN endpoint address (0x8N), 0 if absent
	BulkOut       uint8  // Bulk OUT endpoint address (0x0N), 0 if absent
	MaxPacketSize uint16 // wMaxPacketSize of the bulk endpoints
}

// Filter selects interfaces by class triple.
type Filter struct {
	Class    uint8
	Subclass uint8
	Protocol uint8
}

// MassStorageFilter selects Mass Storage / SCSI transparent / Bulk-Only
// interfaces.
var MassStorageFilter = Filter{
	Class:    ClassMassStorage,
	Subclass: SubclassSCSI,
	Protocol: ProtocolBulkOnly,
}

// Match reports whether info has the filter's class triple and both bulk
// endpoints.
func (f Filter) Match(info *InterfaceInfo) bool {
	return info.Class == f.Class &&
		info.Subclass == f.Subclass &&
		info.Protocol == f.Protocol &&
		info.BulkIn&EndpointDirectionIn != 0 &&
		info.BulkOut != 0 && info.BulkOut&EndpointDirectionIn == 0
}

// EventKind distinguishes bus notifications.
type EventKind uint8

// Bus notification kinds.
const (
	// EventInterfaceAvailable reports that at least one interface appeared.
	EventInterfaceAvailable EventKind = iota + 1

	// EventInterfaceStateChanged reports that an interface disappeared or
	// changed state.
	EventInterfaceStateChanged
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventInterfaceAvailable:
		return "available"
	case EventInterfaceStateChanged:
		return "state-changed"
	default:
		return "unknown"
	}
}

// Event is a bus notification. ID is zero when the source cannot name the
// interface.
type Event struct {
	Kind EventKind
	ID   InterfaceID
}

// =============================================================================
// Control Requests
// =============================================================================

// SetupPacket represents a USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// IsIn reports whether the data stage flows device to host.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&RequestTypeIn != 0
}

// IsClearEndpointHalt reports whether s is CLEAR_FEATURE(ENDPOINT_HALT).
func (s *SetupPacket) IsClearEndpointHalt() bool {
	return s.RequestType == RequestTypeOut|RequestTypeStandard|RequestTypeEndpoint &&
		s.Request == RequestClearFeature &&
		s.Value == FeatureEndpointHalt
}

// ClearHaltSetup returns the CLEAR_FEATURE(ENDPOINT_HALT) request for ep.
func ClearHaltSetup(ep uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeEndpoint,
		Request:     RequestClearFeature,
		Value:       FeatureEndpointHalt,
		Index:       uint16(ep),
	}
}

// =============================================================================
// Host HAL
// =============================================================================

// HostHAL is the USB transport a host-side class driver runs on.
//
// Implementations enumerate interfaces, grant exclusive access to them, move
// control and bulk data, reset devices and report hot-plug activity. Every
// blocking method honors the deadline and cancellation of its context.
//
// All methods must be safe for concurrent use.
type HostHAL interface {
	// Init opens the host controller and starts hot-plug monitoring.
	Init(ctx context.Context) error

	// Close stops monitoring, releases every claimed interface and closes
	// Events.
	Close() error

	// Interfaces lists the attached interfaces that match filter.
	Interfaces(filter Filter) ([]InterfaceInfo, error)

	// Claim takes exclusive ownership of an interface, detaching any kernel
	// driver bound to it.
	Claim(id InterfaceID) error

	// Release gives up ownership of a claimed interface.
	Release(id InterfaceID) error

	// ControlTransfer performs a control transfer on the default pipe of the
	// device owning id. For IN requests data is filled, for OUT requests it is
	// sent. Returns the number of bytes moved in the data stage.
	ControlTransfer(ctx context.Context, id InterfaceID, setup *SetupPacket, data []byte) (int, error)

	// BulkTransfer performs a bulk transfer on endpoint, whose direction bit
	// selects IN or OUT. Returns the number of bytes moved.
	BulkTransfer(ctx context.Context, id InterfaceID, endpoint uint8, data []byte) (int, error)

	// ResetDevice issues a port reset to the device owning id.
	ResetDevice(ctx context.Context, id InterfaceID) error

	// Events delivers hot-plug notifications. The channel is closed by Close.
	Events() <-chan Event
}
