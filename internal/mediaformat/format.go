// Package mediaformat defines the video/audio quality formats a channel
// is encoded at and their total ordering.
package mediaformat

import "fmt"

// VideoFormat identifies one encoded video rendition by resolution and CRF.
// VideoFormat is comparable and safe to use as a map key.
type VideoFormat struct {
	Width  int
	Height int
	CRF    int
}

// Less orders video formats by width, then height, then CRF ascending.
func (f VideoFormat) Less(o VideoFormat) bool {
	if f.Width != o.Width {
		return f.Width < o.Width
	}
	if f.Height != o.Height {
		return f.Height < o.Height
	}
	return f.CRF < o.CRF
}

func (f VideoFormat) String() string {
	return fmt.Sprintf("%dx%d-%d", f.Width, f.Height, f.CRF)
}

// AudioFormat identifies one encoded audio rendition by bitrate in kbps.
type AudioFormat struct {
	KBps int
}

func (f AudioFormat) Less(o AudioFormat) bool {
	return f.KBps < o.KBps
}

func (f AudioFormat) String() string {
	return fmt.Sprintf("%dk", f.KBps)
}

// SortVideoFormats returns a new slice sorted ascending by VideoFormat.Less.
func SortVideoFormats(formats []VideoFormat) []VideoFormat {
	out := make([]VideoFormat, len(formats))
	copy(out, formats)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// SortAudioFormats returns a new slice sorted ascending by AudioFormat.Less.
func SortAudioFormats(formats []AudioFormat) []AudioFormat {
	out := make([]AudioFormat, len(formats))
	copy(out, formats)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
