package conn

import (
	"time"

	"github.com/FluidXR/questlink/internal/adb"
)

// Driver is the transport surface the connection core needs. *adb.Client
// satisfies it; tests supply fakes.
type Driver interface {
	// Devices enumerates everything adb can see right now.
	Devices() ([]adb.Device, error)
	// Shell runs a command on a device with a bounded timeout.
	Shell(serial string, timeout time.Duration, argv ...string) (string, error)
	// EnableWireless puts the device's adbd into TCP listen mode.
	EnableWireless(serial string, port int) error
	// Connect establishes a wireless adb session to ip:port.
	Connect(ip string, port int) error
	// WirelessAddress asks the device for its wlan0 IP over an existing path.
	WirelessAddress(serial string) (string, error)
}
