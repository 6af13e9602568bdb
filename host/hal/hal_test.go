package hal

import (
	"testing"
)

// =============================================================================
// Speed Tests
// =============================================================================

func TestSpeed_String(t *testing.T) {
	tests := []struct {
		speed    Speed
		expected string
	}{
		{SpeedUnknown, "Unknown"},
		{SpeedLow, "Low Speed"},
		{SpeedFull, "Full Speed"},
		{SpeedHigh, "High Speed"},
		{SpeedSuper, "SuperSpeed"},
		{Speed(255), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.speed.String(); got != tt.expected {
				t.Errorf("Speed(%d).String() = %q, want %q", tt.speed, got, tt.expected)
			}
		})
	}
}

// =============================================================================
// InterfaceID Tests
// =============================================================================

func TestInterfaceID(t *testing.T) {
	id := MakeInterfaceID(3, 17, 1)

	if id.Bus() != 3 {
		t.Errorf("Bus() = %d, want 3", id.Bus())
	}
	if id.Address() != 17 {
		t.Errorf("Address() = %d, want 17", id.Address())
	}
	if id.Interface() != 1 {
		t.Errorf("Interface() = %d, want 1", id.Interface())
	}
	if got := id.String(); got != "003-017:1" {
		t.Errorf("String() = %q, want %q", got, "003-017:1")
	}
	if MakeInterfaceID(3, 17, 0) == id {
		t.Error("interface number not part of identity")
	}
}

// =============================================================================
// Filter Tests
// =============================================================================

func TestFilter_Match(t *testing.T) {
	good := InterfaceInfo{
		Class: ClassMassStorage, Subclass: SubclassSCSI, Protocol: ProtocolBulkOnly,
		BulkIn: 0x81, BulkOut: 0x02,
	}

	tests := []struct {
		name   string
		modify func(*InterfaceInfo)
		want   bool
	}{
		{"bulk-only scsi", func(*InterfaceInfo) {}, true},
		{"uas protocol", func(i *InterfaceInfo) { i.Protocol = 0x62 }, false},
		{"ufi subclass", func(i *InterfaceInfo) { i.Subclass = 0x04 }, false},
		{"hid class", func(i *InterfaceInfo) { i.Class = 0x03 }, false},
		{"missing in", func(i *InterfaceInfo) { i.BulkIn = 0 }, false},
		{"missing out", func(i *InterfaceInfo) { i.BulkOut = 0 }, false},
		{"out is in", func(i *InterfaceInfo) { i.BulkOut = 0x82 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := good
			tt.modify(&info)
			if got := MassStorageFilter.Match(&info); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventKind_String(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{EventInterfaceAvailable, "available"},
		{EventInterfaceStateChanged, "state-changed"},
		{EventKind(0), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("EventKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

// =============================================================================
// SetupPacket Tests
// =============================================================================

func TestParseSetupPacket(t *testing.T) {
	data := []byte{
		0xA1,       // RequestType (Device-to-Host, Class, Interface)
		0xFE,       // Request (GET_MAX_LUN)
		0x00, 0x00, // Value
		0x01, 0x00, // Index (interface 1)
		0x01, 0x00, // Length (1)
	}

	var setup SetupPacket
	if !ParseSetupPacket(data, &setup) {
		t.Fatal("ParseSetupPacket returned false")
	}

	if setup.RequestType != 0xA1 {
		t.Errorf("RequestType = 0x%02X, want 0xA1", setup.RequestType)
	}
	if setup.Request != 0xFE {
		t.Errorf("Request = 0x%02X, want 0xFE", setup.Request)
	}
	if setup.Index != 0x0001 {
		t.Errorf("Index = 0x%04X, want 0x0001", setup.Index)
	}
	if setup.Length != 0x0001 {
		t.Errorf("Length = 0x%04X, want 0x0001", setup.Length)
	}
	if !setup.IsIn() {
		t.Error("IsIn() = false, want true")
	}
}

func TestParseSetupPacket_TooShort(t *testing.T) {
	data := make([]byte, SetupPacketSize-1)
	var setup SetupPacket
	if ParseSetupPacket(data, &setup) {
		t.Error("ParseSetupPacket should return false for short data")
	}
}

func TestSetupPacket_MarshalTo(t *testing.T) {
	setup := ClearHaltSetup(0x81)

	buf := make([]byte, SetupPacketSize)
	n := setup.MarshalTo(buf)

	if n != SetupPacketSize {
		t.Errorf("MarshalTo returned %d, want %d", n, SetupPacketSize)
	}

	expected := []byte{0x02, 0x01, 0x00, 0x00, 0x81, 0x00, 0x00, 0x00}
	for i, b := range expected {
		if buf[i] != b {
			t.Errorf("buf[%d] = 0x%02X, want 0x%02X", i, buf[i], b)
		}
	}
}

func TestSetupPacket_MarshalTo_TooSmall(t *testing.T) {
	setup := SetupPacket{}
	buf := make([]byte, SetupPacketSize-1)

	if n := setup.MarshalTo(buf); n != 0 {
		t.Errorf("MarshalTo to small buffer returned %d, want 0", n)
	}
}

func TestSetupPacket_IsClearEndpointHalt(t *testing.T) {
	halt := ClearHaltSetup(0x02)
	if !halt.IsClearEndpointHalt() {
		t.Error("ClearHaltSetup not recognized")
	}

	reset := SetupPacket{
		RequestType: RequestTypeOut | RequestTypeClass | RequestTypeInterface,
		Request:     0xFF,
	}
	if reset.IsClearEndpointHalt() {
		t.Error("class request recognized as clear halt")
	}

	remoteWakeup := SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestClearFeature,
		Value:       1,
	}
	if remoteWakeup.IsClearEndpointHalt() {
		t.Error("device feature recognized as clear halt")
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkParseSetupPacket(b *testing.B) {
	data := []byte{0xA1, 0xFE, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}
	var setup SetupPacket

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseSetupPacket(data, &setup)
	}
}

func BenchmarkSetupPacket_MarshalTo(b *testing.B) {
	setup := ClearHaltSetup(0x81)
	buf := make([]byte, SetupPacketSize)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		setup.MarshalTo(buf)
	}
}
