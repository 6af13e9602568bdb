package msc

import "time"

// Bulk-Only Transport class request codes.
const (
	RequestBulkOnlyMassStorageReset = 0xFF // Reset the mass-storage interface
	RequestGetMaxLUN                = 0xFE // Get maximum Logical Unit Number
)

// Command Block Wrapper (CBW) constants.
const (
	CBWSignature   = 0x43425355 // "USBC" signature
	CBWSize        = 31         // Fixed CBW size in bytes
	CBWFlagDataOut = 0x00       // Data transfer: host to device
	CBWFlagDataIn  = 0x80       // Data transfer: device to host
	CBWMaxCBLength = 16         // Longest command block a CBW carries
)

// Command Status Wrapper (CSW) constants.
const (
	CSWSignature        = 0x53425355 // "USBS" signature
	CSWSize             = 13         // Fixed CSW size in bytes
	CSWStatusGood       = 0x00       // Command passed
	CSWStatusFailed     = 0x01       // Command failed
	CSWStatusPhaseError = 0x02       // Phase error occurred
)

// SCSI operation codes (commonly used subset).
const (
	SCSITestUnitReady       = 0x00 // Test if unit is ready
	SCSIRequestSense        = 0x03 // Request sense data
	SCSIInquiry             = 0x12 // Get device information
	SCSIModeSense6          = 0x1A // Get mode parameters (6-byte)
	SCSIModeSense10         = 0x5A // Get mode parameters (10-byte)
	SCSIStartStopUnit       = 0x1B // Start/stop unit
	SCSIPreventAllowRemoval = 0x1E // Prevent/allow medium removal
	SCSIReadCapacity10      = 0x25 // Read capacity (10-byte)
	SCSIRead10              = 0x28 // Read blocks (10-byte)
	SCSIWrite10             = 0x2A // Write blocks (10-byte)
	SCSISynchronizeCache10  = 0x35 // Synchronize cache (10-byte)
	SCSIRead16              = 0x88 // Read blocks (16-byte)
	SCSIWrite16             = 0x8A // Write blocks (16-byte)
	SCSIServiceActionIn16   = 0x9E // Service action in (16-byte)
)

// Service action codes for SCSIServiceActionIn16.
const (
	ServiceActionReadCapacity16 = 0x10 // Read capacity (16-byte)
)

// SCSI sense keys.
const (
	SenseNoSense        = 0x00 // No error
	SenseRecoveredError = 0x01 // Recovered error
	SenseNotReady       = 0x02 // Device not ready
	SenseMediumError    = 0x03 // Medium error
	SenseHardwareError  = 0x04 // Hardware error
	SenseIllegalRequest = 0x05 // Illegal request
	SenseUnitAttention  = 0x06 // Unit attention
	SenseDataProtect    = 0x07 // Data protect
	SenseAbortedCommand = 0x0B // Aborted command
)

// Additional Sense Codes (ASC).
const (
	ASCNoAdditionalInfo        = 0x00 // No additional sense information
	ASCLogicalUnitNotReady     = 0x04 // Logical unit not ready
	ASCWriteError              = 0x0C // Write error
	ASCUnrecoveredReadError    = 0x11 // Unrecovered read error
	ASCInvalidCommand          = 0x20 // Invalid command operation code
	ASCLBAOutOfRange           = 0x21 // Logical block address out of range
	ASCInvalidFieldInCDB       = 0x24 // Invalid field in CDB
	ASCLogicalUnitNotSupported = 0x25 // Logical unit not supported
	ASCWriteProtected          = 0x27 // Write protected
	ASCNotReadyToReadyChange   = 0x28 // Not ready to ready change, medium may have changed
	ASCPowerOnReset            = 0x29 // Power on, reset, or bus device reset occurred
	ASCMediumNotPresent        = 0x3A // Medium not present
)

// Additional Sense Code Qualifiers for ASCLogicalUnitNotReady.
const (
	ASCQBecomingReady       = 0x01 // In process of becoming ready
	ASCQInitCommandRequired = 0x02 // Initializing command required
)

// Sense data response codes.
const (
	SenseResponseCurrentFixed       = 0x70
	SenseResponseDeferredFixed      = 0x71
	SenseResponseCurrentDescriptor  = 0x72
	SenseResponseDeferredDescriptor = 0x73
	SenseFixedSize                  = 18
	SenseDescriptorHeaderSize       = 8
)

// SCSI device types (peripheral device type).
const (
	DeviceTypeDisk    = 0x00 // Direct access block device (disk)
	DeviceTypeCDROM   = 0x05 // CD-ROM device
	DeviceTypeOptical = 0x07 // Optical memory device
	DeviceTypeRBC     = 0x0E // Simplified direct-access device
	DeviceTypeUnknown = 0x1F // Unknown or no device type
)

// INQUIRY response constants.
const (
	InquiryStandardSize      = 36   // Standard INQUIRY data length
	InquiryVersionSPC4       = 0x06 // SPC-4 version
	InquiryResponseFormatSPC = 0x02 // SPC-compliant response format
	InquiryRMB               = 0x80 // Removable media bit
	InquiryQualifierMask     = 0xE0 // Peripheral qualifier bits
	InquiryTypeMask          = 0x1F // Peripheral device type bits
)

// READ CAPACITY constants.
const (
	ReadCapacity10Size = 8
	ReadCapacity16Size = 32
	// ReadCapacity10Overflow is the last-LBA value instructing the host to
	// issue READ CAPACITY (16).
	ReadCapacity10Overflow = 0xFFFFFFFF
)

// MODE SENSE constants.
const (
	ModePageAllPages      = 0x3F // All mode pages
	ModeSenseDBD          = 0x08 // Disable block descriptors
	ModeSense6HeaderSize  = 4
	ModeSense10HeaderSize = 8
	ModeSenseAllocLength  = 0xC0 // Allocation length requested for all pages
	ModeDeviceParamWP     = 0x80 // Write-protect bit of the device-specific parameter
)

// START STOP UNIT flags (byte 4).
const (
	StartStopStart = 0x01
	StartStopLoEj  = 0x02
)

// Logical unit limits.
const (
	// MaxLUNs is the number of logical units a Bulk-Only interface can expose.
	MaxLUNs = 16

	// MinBlockLength and MaxBlockLength bound supported block lengths.
	MinBlockLength = 512
	MaxBlockLength = 4096
)

// MaxTransferSize is the largest data stage issued by a single command.
const MaxTransferSize = 65536

// DefaultTimeout bounds each individual transfer of a command exchange.
const DefaultTimeout = 5 * time.Second
