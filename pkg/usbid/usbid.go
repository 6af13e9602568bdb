package usbid

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the standard locations for the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database caches names parsed from a usb.ids file.
type Database struct {
	mu       sync.RWMutex
	once     sync.Once
	found    bool
	paths    []string
	vendors  map[uint16]string // VID -> vendor name
	products map[uint32]string // (VID<<16)|PID -> product name
	classes  map[uint32]string // (class<<16)|(sub<<8)|proto, see classKey
}

// New creates a database that searches DefaultPaths.
func New() *Database {
	return NewWithPaths(DefaultPaths)
}

// NewWithPaths creates a database that searches the given paths in order.
func NewWithPaths(paths []string) *Database {
	return &Database{
		paths:    paths,
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
		classes:  make(map[uint32]string),
	}
}

// Load parses the first readable file among the configured paths. Only the
// first call does any work; it reports whether a file was found.
func (db *Database) Load() bool {
	db.once.Do(func() {
		for _, path := range db.paths {
			file, err := os.Open(path)
			if err != nil {
				continue
			}
			err = db.Parse(file)
			file.Close()
			if err == nil {
				db.mu.Lock()
				db.found = true
				db.mu.Unlock()
				return
			}
		}
	})
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.found
}

// section tracks which top-level block of usb.ids is being parsed.
type section uint8

const (
	sectionNone section = iota
	sectionVendor
	sectionClass
	sectionOther
)

// Parse merges entries read from r into the database.
//
// Vendor blocks have the form "vvvv  Name" followed by "\tpppp  Name" product
// lines. Class blocks have the form "C cc  Name" followed by "\tss  Name"
// subclass and "\t\tpp  Name" protocol lines. Other blocks are skipped.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var (
		sec      section
		vid      uint16
		class    uint8
		subclass uint8
		haveSub  bool
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		switch {
		case strings.HasPrefix(line, "\t\t"):
			if sec != sectionClass || !haveSub {
				continue
			}
			if proto, name, ok := splitEntry(line[2:], 8); ok {
				db.classes[classKey(class, uint16(subclass), uint16(proto))] = name
			}

		case line[0] == '\t':
			switch sec {
			case sectionVendor:
				if pid, name, ok := splitEntry(line[1:], 16); ok {
					db.products[uint32(vid)<<16|uint32(pid)] = name
				}
			case sectionClass:
				sub, name, ok := splitEntry(line[1:], 8)
				haveSub = ok
				if ok {
					subclass = uint8(sub)
					db.classes[classKey(class, uint16(subclass), anyProtocol)] = name
				}
			}

		case strings.HasPrefix(line, "C "):
			c, name, ok := splitEntry(line[2:], 8)
			if !ok {
				sec = sectionOther
				continue
			}
			sec, class, haveSub = sectionClass, uint8(c), false
			db.classes[classKey(class, anySubclass, anyProtocol)] = name

		default:
			v, name, ok := splitEntry(line, 16)
			if !ok {
				// AT, HID, L, and the other trailing blocks.
				sec = sectionOther
				continue
			}
			sec, vid = sectionVendor, uint16(v)
			db.vendors[vid] = name
		}
	}
	return scanner.Err()
}

// splitEntry splits "hhhh  Name" into the hex id and the name.
func splitEntry(line string, bits int) (uint64, string, bool) {
	digits := bits / 4
	if len(line) < digits+2 || line[digits] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:digits], 16, bits)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimSpace(line[digits:])
	if name == "" {
		return 0, "", false
	}
	return id, name, true
}

const (
	anySubclass = 0x100
	anyProtocol = 0x100
)

func classKey(class uint8, subclass, protocol uint16) uint32 {
	return uint32(class)<<18 | uint32(subclass&0x1FF)<<9 | uint32(protocol&0x1FF)
}

// Vendor returns the vendor name for vid, or "".
func (db *Database) Vendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// Product returns the product name for vid:pid, or "".
func (db *Database) Product(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// Class returns "Class / Subclass / Protocol" with as many components as the
// database names, or "" when the class itself is unknown.
func (db *Database) Class(class, subclass, protocol uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	name, ok := db.classes[classKey(class, anySubclass, anyProtocol)]
	if !ok {
		return ""
	}
	sub, ok := db.classes[classKey(class, uint16(subclass), anyProtocol)]
	if !ok {
		return name
	}
	name += " / " + sub
	if proto, ok := db.classes[classKey(class, uint16(subclass), uint16(protocol))]; ok {
		name += " / " + proto
	}
	return name
}

// VendorCount returns the number of vendors in the database.
func (db *Database) VendorCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors)
}

// ProductCount returns the number of products in the database.
func (db *Database) ProductCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.products)
}
