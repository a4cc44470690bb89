// Package config loads the media server's YAML configuration
// with github.com/spf13/viper.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/StanfordSNR/puffer-sub000/internal/channel"
	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
)

// VideoLadder is one resolution's list of CRFs from the YAML "video" map.
type VideoLadder struct {
	Width  int
	Height int
	CRFs   []int
}

// ChannelConfig is one entry of the YAML "channel_configs" map.
type ChannelConfig struct {
	Output          string           `mapstructure:"output"`
	RawVideo        map[string][]int `mapstructure:"video"`
	Video           []VideoLadder    `mapstructure:"-"`
	Audio           []string         `mapstructure:"audio"`
	VideoCodec      string           `mapstructure:"video_codec"`
	AudioCodec      string           `mapstructure:"audio_codec"`
	Timescale       int64            `mapstructure:"timescale"`
	VideoDuration   int64            `mapstructure:"video_duration"`
	AudioDuration   int64            `mapstructure:"audio_duration"`
	InitVts         *int64           `mapstructure:"init_vts"`
	CleanTimeWindow *int64           `mapstructure:"clean_time_window"`
}

// Config is the top-level YAML document.
type Config struct {
	MediaDir       string                   `mapstructure:"media_dir"`
	Channels       []string                 `mapstructure:"channels"`
	ChannelConfigs map[string]ChannelConfig `mapstructure:"channel_configs"`
	WSBasePort     int                      `mapstructure:"ws_base_port"`
	StatusWSPort   int                      `mapstructure:"status_ws_port"`
	ABR            string                   `mapstructure:"abr"`
	ABROptions     map[string]float64       `mapstructure:"abr_options"`
	ModelDir       string                   `mapstructure:"model_dir"`
	MaxBufferS     float64                  `mapstructure:"max_buffer_s"`
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("ws_base_port", 9361)
	v.SetDefault("status_ws_port", 9362)
	v.SetDefault("max_buffer_s", 10.0)
	v.SetDefault("abr", "linear_bba")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for name, cc := range cfg.ChannelConfigs {
		ladder, err := parseVideoLadder(cc.RawVideo)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		cc.Video = ladder
		cfg.ChannelConfigs[name] = cc
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseVideoLadder(raw map[string][]int) ([]VideoLadder, error) {
	ladder := make([]VideoLadder, 0, len(raw))
	for res, crfs := range raw {
		var w, h int
		if _, err := fmt.Sscanf(res, "%dx%d", &w, &h); err != nil {
			return nil, fmt.Errorf("invalid video resolution key %q: %w", res, err)
		}
		ladder = append(ladder, VideoLadder{Width: w, Height: h, CRFs: crfs})
	}
	return ladder, nil
}

// ChannelConfigFor converts the named channel's YAML entry into the
// channel package's runtime Config.
func (c *Config) ChannelConfigFor(name string) (channel.Config, error) {
	cc, ok := c.ChannelConfigs[name]
	if !ok {
		return channel.Config{}, fmt.Errorf("unknown channel %s", name)
	}

	var videoFormats []mediaformat.VideoFormat
	for _, v := range cc.Video {
		for _, crf := range v.CRFs {
			videoFormats = append(videoFormats, mediaformat.VideoFormat{Width: v.Width, Height: v.Height, CRF: crf})
		}
	}

	var audioFormats []mediaformat.AudioFormat
	for _, a := range cc.Audio {
		kbps, err := parseKbps(a)
		if err != nil {
			return channel.Config{}, fmt.Errorf("channel %s: %w", name, err)
		}
		audioFormats = append(audioFormats, mediaformat.AudioFormat{KBps: kbps})
	}

	output := cc.Output
	if output == "" {
		output = filepath.Join(c.MediaDir, name)
	}

	return channel.Config{
		Name:            name,
		Output:          output,
		VideoFormats:    mediaformat.SortVideoFormats(videoFormats),
		AudioFormats:    mediaformat.SortAudioFormats(audioFormats),
		VideoCodec:      cc.VideoCodec,
		AudioCodec:      cc.AudioCodec,
		Timescale:       cc.Timescale,
		VideoDuration:   cc.VideoDuration,
		AudioDuration:   cc.AudioDuration,
		InitVts:         cc.InitVts,
		CleanTimeWindow: cc.CleanTimeWindow,
	}, nil
}

func parseKbps(s string) (int, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "k")
	return strconv.Atoi(s)
}

func (c *Config) validate() error {
	if c.MediaDir == "" {
		return fmt.Errorf("media_dir is required")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("channels must list at least one channel name")
	}
	for _, name := range c.Channels {
		if _, ok := c.ChannelConfigs[name]; !ok {
			return fmt.Errorf("channel %s has no entry in channel_configs", name)
		}
	}
	if c.ABR == "puffer_ttp" && c.ModelDir == "" {
		return fmt.Errorf("abr puffer_ttp requires model_dir")
	}
	return nil
}
