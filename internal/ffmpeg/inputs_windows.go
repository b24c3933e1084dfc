//go:build windows

package ffmpeg

import (
	"fmt"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

func defaultDisplay() string {
	return "desktop"
}

// defaultMicrophone is empty: DirectShow has no safe default device.
func defaultMicrophone() string {
	return ""
}

func screenInput(display string, c media.DisplayConstraints) input {
	return input{
		format:  "gdigrab",
		device:  display,
		options: []string{"-framerate", frameRate(c), "-draw_mouse", boolFlag(c.Cursor)},
	}
}

// audioInput captures a DirectShow audio device. System audio needs a
// loopback device such as "Stereo Mix".
func audioInput(device string) input {
	return input{format: "dshow", device: "audio=" + device}
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
