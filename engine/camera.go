package engine

import (
	"fmt"
	"strconv"

	"gocv.io/x/gocv"
)

// DeviceCamera is a gocv VideoCapture opened on a device index, file or URL.
type DeviceCamera struct {
	vc *gocv.VideoCapture
}

// OpenCamera accepts "0", "1", ... for devices, anything else as a file/URL.
func OpenCamera(device string) (*DeviceCamera, error) {
	var source interface{} = device
	if id, err := strconv.Atoi(device); err == nil {
		source = id
	}
	vc, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("open video source %q: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video source %q is not available", device)
	}
	return &DeviceCamera{vc: vc}, nil
}

func (c *DeviceCamera) Read(dst *gocv.Mat) bool {
	return c.vc.Read(dst)
}

func (c *DeviceCamera) Close() error {
	return c.vc.Close()
}
