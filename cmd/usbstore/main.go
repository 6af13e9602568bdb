// Command usbstore lists and watches USB mass-storage volumes, either on the
// local bus or on disk images attached to a simulated bus.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
