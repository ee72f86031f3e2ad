package version

import "runtime"

// Version holds the build identifier, injected via -ldflags. Default "dev".
var Version = "dev"

// String reports the binary name, version and Go runtime.
func String(binary string) string {
	return binary + " " + Version + " (" + runtime.Version() + ")"
}
