//go:build linux

package ffmpeg

import (
	"fmt"
	"os"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

func defaultDisplay() string {
	if d := os.Getenv("DISPLAY"); d != "" {
		return d
	}
	return ":0.0"
}

func defaultMicrophone() string {
	return "default"
}

func screenInput(display string, c media.DisplayConstraints) input {
	return input{
		format:  "x11grab",
		device:  display,
		options: []string{"-framerate", frameRate(c), "-draw_mouse", boolFlag(c.Cursor)},
	}
}

// audioInput captures a PulseAudio source. System audio uses a monitor
// source such as "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor".
func audioInput(device string) input {
	return input{format: "pulse", device: device}
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
