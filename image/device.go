package image

// DeviceCap describes a capability of a device.
type DeviceCap struct {
	Type      string // "video/x-raw", "image/jpeg" or "nvarguscamerasrc"
	Width     int
	Height    int
	Framerate int
}

// Device is a camera device capable of streaming images. Name is the
// human-readable label shown when picking a camera.
type Device struct {
	Name string
	ID   string
	Caps []DeviceCap
}

// Label returns the name of the device, or its ID if it has no name.
func (d Device) Label() string {
	if d.Name == "" {
		return d.ID
	}
	return d.Name
}
