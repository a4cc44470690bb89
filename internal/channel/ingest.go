package channel

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/StanfordSNR/puffer-sub000/internal/mediaformat"
	"github.com/StanfordSNR/puffer-sub000/internal/mmapspan"
	"github.com/StanfordSNR/puffer-sub000/internal/segment"
)

// parseVideoFormatDir parses a "WxH-CRF" directory name.
func parseVideoFormatDir(name string) (mediaformat.VideoFormat, bool) {
	wh, crfStr, ok := strings.Cut(name, "-")
	if !ok {
		return mediaformat.VideoFormat{}, false
	}
	wStr, hStr, ok := strings.Cut(wh, "x")
	if !ok {
		return mediaformat.VideoFormat{}, false
	}
	w, err1 := strconv.Atoi(wStr)
	h, err2 := strconv.Atoi(hStr)
	crf, err3 := strconv.Atoi(crfStr)
	if err1 != nil || err2 != nil || err3 != nil {
		return mediaformat.VideoFormat{}, false
	}
	return mediaformat.VideoFormat{Width: w, Height: h, CRF: crf}, true
}

// parseAudioFormatDir parses a "Nk" directory name.
func parseAudioFormatDir(name string) (mediaformat.AudioFormat, bool) {
	if !strings.HasSuffix(name, "k") {
		return mediaformat.AudioFormat{}, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(name, "k"))
	if err != nil {
		return mediaformat.AudioFormat{}, false
	}
	return mediaformat.AudioFormat{KBps: n}, true
}

// IngestFile admits one file discovered either by the startup scan or by a
// watcher move-in event. It is idempotent for a given (ts, format) so the
// two call sites can race harmlessly.
// Parse errors are reported via onIngestError and otherwise swallowed: a
// single bad file never aborts the watch.
func (c *Channel) IngestFile(path string) {
	if err := c.ingestFile(path); err != nil {
		c.store.reportError(path, err)
	}
}

func (c *Channel) ingestFile(path string) error {
	dir := filepath.Dir(path)
	formatDir := filepath.Base(dir)
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	ext := filepath.Ext(base)

	switch {
	case strings.HasSuffix(formatDir, "-ssim"):
		vfName := strings.TrimSuffix(formatDir, "-ssim")
		vf, ok := parseVideoFormatDir(vfName)
		if !ok {
			return fmt.Errorf("unrecognized ssim format dir %q", formatDir)
		}
		if ext != ".ssim" {
			return fmt.Errorf("unexpected file in ssim dir: %s", base)
		}
		ts, err := strconv.ParseInt(stem, 10, 64)
		if err != nil {
			return fmt.Errorf("bad ssim timestamp %q: %w", stem, err)
		}
		val, err := readSSIM(path)
		if err != nil {
			return err
		}
		return c.store.IngestVideoSSIM(ts, vf, val)

	case ext == ".m4s" || (stem == "init" && ext == ".mp4"):
		vf, ok := parseVideoFormatDir(formatDir)
		if !ok {
			return fmt.Errorf("unrecognized video format dir %q", formatDir)
		}
		if stem == "init" {
			if err := segment.ValidateMP4Init(path); err != nil {
				return fmt.Errorf("invalid init segment %s: %w", path, err)
			}
			span, m, err := mmapspan.MapFile(path)
			if err != nil {
				return err
			}
			c.store.ingestVideoInit(vf, span, m)
			return nil
		}
		ts, err := strconv.ParseInt(stem, 10, 64)
		if err != nil {
			return fmt.Errorf("bad video timestamp %q: %w", stem, err)
		}
		span, m, err := mmapspan.MapFile(path)
		if err != nil {
			return err
		}
		return c.store.IngestVideo(ts, vf, span, m)

	case ext == ".chk" || (stem == "init" && ext == ".webm"):
		af, ok := parseAudioFormatDir(formatDir)
		if !ok {
			return fmt.Errorf("unrecognized audio format dir %q", formatDir)
		}
		if stem == "init" {
			if err := segment.ValidateWebMInit(path); err != nil {
				return fmt.Errorf("invalid init segment %s: %w", path, err)
			}
			span, m, err := mmapspan.MapFile(path)
			if err != nil {
				return err
			}
			c.store.ingestAudioInit(af, span, m)
			return nil
		}
		ts, err := strconv.ParseInt(stem, 10, 64)
		if err != nil {
			return fmt.Errorf("bad audio timestamp %q: %w", stem, err)
		}
		span, m, err := mmapspan.MapFile(path)
		if err != nil {
			return err
		}
		return c.store.IngestAudio(ts, af, span, m)

	default:
		return fmt.Errorf("unrecognized ready-directory file: %s", path)
	}
}

func readSSIM(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, fmt.Errorf("empty ssim file")
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(sc.Text()), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ssim: %w", err)
	}
	return val, nil
}
