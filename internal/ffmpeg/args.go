package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
)

// buildRecordArgs returns the FFmpeg arguments encoding s to stdout, and
// the tracks to end if the process exits on its own.
func buildRecordArgs(s *media.Stream, mimeType string) ([]string, []*Track, error) {
	videos := s.VideoTracks()
	if len(videos) == 0 {
		return nil, nil, ErrNoVideoTrack
	}
	video, ok := videos[0].(*Track)
	if !ok {
		return nil, nil, fmt.Errorf("record %T: %w", videos[0], media.ErrNotSupported)
	}

	args := []string{"-hide_banner", "-loglevel", "warning"}
	args = append(args, video.in.args()...)
	tracks := []*Track{video}

	var audio *Track
	if as := s.AudioTracks(); len(as) > 0 {
		a, ok := as[0].(*Track)
		if !ok {
			return nil, nil, fmt.Errorf("record %T: %w", as[0], media.ErrNotSupported)
		}
		audio = a
	}

	switch {
	case audio == nil:
		args = append(args, "-map", "0:v")

	case len(audio.sources) > 0:
		for _, src := range audio.sources {
			args = append(args, src.in.args()...)
		}
		args = append(args, "-filter_complex", mixGraph(audio.sources), "-map", "0:v", "-map", "[aout]")
		tracks = append(tracks, audio)
		tracks = append(tracks, audio.sources...)

	default:
		args = append(args, audio.in.args()...)
		args = append(args, "-map", "0:v", "-map", "1:a")
		if len(audio.filters) > 0 {
			args = append(args, "-af", strings.Join(audio.filters, ","))
		}
		tracks = append(tracks, audio)
	}

	args = append(args, outputArgs(mimeType)...)
	return append(args, "pipe:1"), tracks, nil
}

// mixGraph builds the amix filter graph for sources at inputs 1..n.
func mixGraph(sources []*Track) string {
	var b strings.Builder
	for i, src := range sources {
		chain := "anull"
		if len(src.filters) > 0 {
			chain = strings.Join(src.filters, ",")
		}
		fmt.Fprintf(&b, "[%d:a]%s[a%d];", i+1, chain, i)
	}
	for i := range sources {
		fmt.Fprintf(&b, "[a%d]", i)
	}
	fmt.Fprintf(&b, "amix=inputs=%d:duration=longest:normalize=0[aout]", len(sources))
	return b.String()
}

// outputArgs returns codec and muxer arguments for a container MIME type.
// Every muxer used here can write to a non-seekable pipe.
func outputArgs(mimeType string) []string {
	switch media.ExtensionFor(mimeType) {
	case "mp4":
		return []string{
			"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k",
			"-movflags", "frag_keyframe+empty_moov+default_base_moof",
			"-f", "mp4",
		}
	case "mkv":
		return []string{
			"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k",
			"-f", "matroska",
		}
	default:
		return []string{
			"-c:v", "libvpx-vp9", "-deadline", "realtime", "-cpu-used", "8", "-b:v", "2M",
			"-c:a", "libopus", "-b:a", "128k",
			"-f", "webm",
		}
	}
}
