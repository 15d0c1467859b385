package sensor

import (
	"io"

	"go.bug.st/serial"
)

// Porter is the minimal interface needed from a serial port. It lets tests
// feed samples without hardware.
type Porter interface {
	io.Reader
	io.Closer
}

// OpenSerial opens the accelerometer at path and returns a Stream over it.
func OpenSerial(path string, opts PortOptions) (*Stream[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewStream[serial.Port](port), nil
}
