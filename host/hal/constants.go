package hal

// Interface class codes used by the mass-storage filter.
const (
	ClassMassStorage = 0x08 // bInterfaceClass: Mass Storage
	SubclassSCSI     = 0x06 // bInterfaceSubClass: SCSI transparent command set
	ProtocolBulkOnly = 0x50 // bInterfaceProtocol: Bulk-Only Transport
)

// Endpoint transfer types (bmAttributes bits 1:0).
const (
	EndpointTypeControl     = 0x00
	EndpointTypeIsochronous = 0x01
	EndpointTypeBulk        = 0x02
	EndpointTypeInterrupt   = 0x03
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// Standard request codes.
const (
	RequestGetStatus     = 0x00
	RequestClearFeature  = 0x01
	RequestSetFeature    = 0x03
	RequestGetDescriptor = 0x06
)

// Feature selectors.
const (
	FeatureEndpointHalt = 0x00
)

// Request types (bmRequestType).
const (
	RequestTypeOut       = 0x00 // Host to device
	RequestTypeIn        = 0x80 // Device to host
	RequestTypeStandard  = 0x00 // Standard request
	RequestTypeClass     = 0x20 // Class-specific request
	RequestTypeVendor    = 0x40 // Vendor-specific request
	RequestTypeDevice    = 0x00 // Recipient: device
	RequestTypeInterface = 0x01 // Recipient: interface
	RequestTypeEndpoint  = 0x02 // Recipient: endpoint
)
