package host

import (
	"fmt"
	"path"
	"strings"

	"github.com/ardnew/usbstore/pkg"
)

// Path is a parsed "name:/path" reference to a file on a mounted volume.
type Path struct {
	// Device is the mount name, empty when the path names no device and the
	// default device applies.
	Device string

	// Name is the cleaned path within the volume. It is absolute unless the
	// input was relative to the current directory.
	Name string
}

// ParsePath splits s into its mount name and volume path.
//
// "ums0:/dir/file" names a file on ums0, "/dir/file" and "dir/file" name a
// file on the default device. A mount name consists of letters, digits, '_'
// and '-'; anything else before the first ':' makes the whole input a path.
func ParsePath(s string) (Path, error) {
	var p Path

	rest := s
scan:
	for i, r := range s {
		switch {
		case r == ':':
			if i == 0 {
				return Path{}, fmt.Errorf("%w: empty device name in %q", pkg.ErrInvalidPath, s)
			}
			p.Device, rest = s[:i], s[i+1:]
			break scan
		case r == '_' || r == '-',
			r >= '0' && r <= '9',
			r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z':
		default:
			break scan
		}
	}

	if strings.IndexByte(rest, 0) >= 0 {
		return Path{}, fmt.Errorf("%w: NUL in %q", pkg.ErrInvalidPath, s)
	}

	switch {
	case rest == "" && p.Device != "":
		p.Name = "/"
	case rest == "":
		return Path{}, fmt.Errorf("%w: empty path", pkg.ErrInvalidPath)
	default:
		p.Name = path.Clean(rest)
	}
	return p, nil
}

// IsAbs reports whether the volume path is absolute.
func (p Path) IsAbs() bool {
	return path.IsAbs(p.Name)
}

// Resolve returns p with a relative volume path joined to cwd.
func (p Path) Resolve(cwd string) Path {
	if !p.IsAbs() {
		p.Name = path.Join("/", cwd, p.Name)
	}
	return p
}

// String returns the "name:/path" form.
func (p Path) String() string {
	if p.Device == "" {
		return p.Name
	}
	return p.Device + ":" + p.Name
}
