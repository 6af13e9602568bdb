// Package usbid resolves USB vendor, product and interface-class names from
// the usb.ids database shipped with most Linux distributions.
//
// Drives that report empty manufacturer or product string descriptors are
// labelled from this database instead:
//
//	db := usbid.New()
//	db.Load()
//	vendor := db.Vendor(0x0781)
//	product := db.Product(0x0781, 0x5567)
//	class := db.Class(0x08, 0x06, 0x50) // "Mass Storage / SCSI / Bulk-Only"
//
// If no database file is found every lookup returns the empty string. All
// methods are safe for concurrent use.
package usbid
