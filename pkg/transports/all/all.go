// Package all is a convenience wrapper that registers all known transport implementations.
// Importing this package enables the goremote factory to find a transport for
// any supported kind.
package all

// Import each implementation package for its side-effects (the init() function).
import (
	_ "github.com/mlsorensen/goremote/pkg/transports/ble"
	_ "github.com/mlsorensen/goremote/pkg/transports/mock"
	_ "github.com/mlsorensen/goremote/pkg/transports/rfcomm"
	_ "github.com/mlsorensen/goremote/pkg/transports/serial"
	// When you add a transport, you would add this line:
	// _ "github.com/mlsorensen/goremote/pkg/transports/[kind]"
)
