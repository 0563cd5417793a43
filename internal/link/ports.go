package link

import (
	"path/filepath"
	"sort"
)

// USB serial adapters and CDC-ACM controllers show up under these
// patterns on Linux; the flight controller's UART bridge is one of them.
var portGlobs = []string{
	"/dev/ttyACM*",
	"/dev/ttyUSB*",
	"/dev/serial/by-id/*",
}

// ListPorts enumerates candidate serial devices, sorted by path.
func ListPorts() []string {
	var out []string
	for _, pattern := range portGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out
}
