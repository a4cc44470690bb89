// Package segment does shallow validation of the init segments the
// encoding pipeline hands off: it confirms the container
// box/element structure looks like a real init segment without
// interpreting codec payloads. It also offers SPS helpers
// (ExtractAvcCSPS, SPSResolution); the ingest path does not call them.
package segment

import (
	"fmt"
	"os"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// ValidateMP4Init confirms path contains an ftyp box followed by a moov
// box, the minimum shape of a fragmented-MP4 initialization segment.
func ValidateMP4Init(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var sawFtyp, sawMoov bool
	_, err = mp4.ReadBoxStructure(f, func(h *mp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type.String() {
		case "ftyp":
			sawFtyp = true
		case "moov":
			sawMoov = true
		}
		if h.BoxInfo.Type.String() == "moov" {
			return h.Expand()
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("read box structure: %w", err)
	}
	if !sawFtyp {
		return fmt.Errorf("missing ftyp box")
	}
	if !sawMoov {
		return fmt.Errorf("missing moov box")
	}
	return nil
}

// ExtractAvcCSPS pulls the SPS NAL out of an avcC box's payload, purely
// for ingest-time logging of resolution/profile (never consulted by
// dispatch, which treats media bytes as opaque).
func ExtractAvcCSPS(avcc []byte) (sps []byte, ok bool) {
	if len(avcc) < 7 || avcc[0] != 0x01 {
		return nil, false
	}
	i := 5
	if i >= len(avcc) {
		return nil, false
	}
	numSPS := int(avcc[i] & 0x1f)
	i++
	for n := 0; n < numSPS && i+2 <= len(avcc); n++ {
		l := int(avcc[i])<<8 | int(avcc[i+1])
		i += 2
		if i+l > len(avcc) {
			return nil, false
		}
		if l > 0 && sps == nil {
			sps = append([]byte{}, avcc[i:i+l]...)
		}
		i += l
	}
	return sps, sps != nil
}

// SPSResolution decodes width/height from a raw SPS NAL, for logging only.
func SPSResolution(sps []byte) (width, height int, err error) {
	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return 0, 0, err
	}
	return parsed.Width(), parsed.Height(), nil
}
