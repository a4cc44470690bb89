package channel

import (
	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

// Config describes one channel's static configuration, as loaded from the
// YAML config file's channel_configs[name] entry.
type Config struct {
	Name             string
	Output           string
	VideoFormats     []mediaformat.VideoFormat
	AudioFormats     []mediaformat.AudioFormat
	VideoCodec       string
	AudioCodec       string
	Timescale        int64
	VideoDuration    int64 // vduration, in timescale ticks
	AudioDuration    int64 // aduration, in timescale ticks
	InitVts          *int64
	CleanTimeWindow  *int64 // ticks
}

// videoEntry is one ts's worth of per-format video data.
type videoEntry struct {
	data map[mediaformat.VideoFormat]chunkSpan
	ssim map[mediaformat.VideoFormat]float64
}

// audioEntry is one ts's worth of per-format audio data.
type audioEntry struct {
	data map[mediaformat.AudioFormat]chunkSpan
}
