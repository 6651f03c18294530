package imagesnap

import (
	"reflect"
	"testing"
	"time"

	"github.com/krishisahay/camera-sdk-go/image"
)

func TestParseDevices(t *testing.T) {
	const imagesnap0 = `Video Devices:
<AVCaptureDALDevice: 0x7fa2c7852fd0 [FaceTime HD Camera (Built-in)][0x8020000005ac8514]>
<AVCaptureDALDevice: 0x7fa2c78512f0 [FaceTime HD Camera (Display)][0x4015000005ac1112]>
<AVCaptureDALDevice: 0x7fa2c784f4e0 [Cam Link 4K #5][0x2000000fd90066]>
`

	devs0 := parseDevices(imagesnap0)
	exp0 := []image.Device{
		{ID: "FaceTime HD Camera (Built-in)", Name: "FaceTime HD Camera (Built-in)"},
		{ID: "FaceTime HD Camera (Display)", Name: "FaceTime HD Camera (Display)"},
		{ID: "Cam Link 4K #5", Name: "Cam Link 4K #5"},
	}
	if !reflect.DeepEqual(devs0, exp0) {
		t.Fatalf("imagesnap devices, got %v, expected %v", devs0, exp0)
	}

	const imagesnap1 = `Video Devices:
=> FaceTime HD Camera (Built-in)
`
	devs1 := parseDevices(imagesnap1)
	exp1 := []image.Device{
		{ID: "FaceTime HD Camera (Built-in)", Name: "FaceTime HD Camera (Built-in)"},
	}
	if !reflect.DeepEqual(devs1, exp1) {
		t.Fatalf("imagesnap devices, got %v, expected %v", devs1, exp1)
	}

	// No cameras is an empty list, not an error.
	devs2 := parseDevices("Video Devices:\n")
	if devs2 == nil || len(devs2) != 0 {
		t.Fatalf("imagesnap without devices, got %v, expected empty list", devs2)
	}
}

func TestArgs(t *testing.T) {
	p := New(&Opts{Interval: 250 * time.Millisecond})
	got := p.args("Cam Link 4K #5")
	exp := []string{"-d", "Cam Link 4K #5", "-t", "0.25"}
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("imagesnap args, got %v, expected %v", got, exp)
	}
}
