//go:build darwin

package ffmpeg

import (
	"fmt"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// defaultDisplay is the first AVFoundation screen capture device. Cameras
// are listed before screens, so the index may need configuring.
func defaultDisplay() string {
	return "1"
}

func defaultMicrophone() string {
	return ":0"
}

func screenInput(display string, c media.DisplayConstraints) input {
	return input{
		format: "avfoundation",
		device: display + ":none",
		options: []string{
			"-framerate", frameRate(c),
			"-capture_cursor", boolFlag(c.Cursor),
			"-pixel_format", "uyvy422",
		},
	}
}

// audioInput captures an AVFoundation audio device (":0"). System audio
// needs a loopback device such as BlackHole.
func audioInput(device string) input {
	return input{format: "avfoundation", device: device}
}

func frameRate(c media.DisplayConstraints) string {
	if c.FrameRate <= 0 {
		return fmt.Sprintf("%d", types.DefaultFrameRate)
	}
	return fmt.Sprintf("%d", c.FrameRate)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
