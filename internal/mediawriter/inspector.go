package mediawriter

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/breeze-rmm/camrec/internal/capture"
)

// errStopScan ends a Scan early once the wanted record was found.
var errStopScan = errors.New("stop")

// Inspector implements capture.ArtifactInspector for FileWriter output.
type Inspector struct{}

// Summary describes a finished container.
type Summary struct {
	Header      Header
	Duration    time.Duration
	VideoFrames int
	AudioFrames int
	Bytes       int64
}

// Summarize reads every record in path.
func (Inspector) Summarize(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	var s Summary
	h, err := Scan(f, func(r Record) error {
		if r.PTS > s.Duration {
			s.Duration = r.PTS
		}
		if r.Kind == capture.MediaVideo {
			s.VideoFrames++
		} else {
			s.AudioFrames++
		}
		s.Bytes += int64(len(r.Data))
		return nil
	})
	s.Header = h
	if err != nil {
		return s, fmt.Errorf("mediawriter: %s: %w", path, err)
	}
	return s, nil
}

// Duration returns the largest presentation time in path.
func (i Inspector) Duration(path string) (time.Duration, error) {
	s, err := i.Summarize(path)
	if err != nil {
		return 0, err
	}
	return s.Duration, nil
}

// StillFrame decodes the first video frame at or after at, or the last
// video frame when the recording is shorter than at.
func (Inspector) StillFrame(path string, at time.Duration) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pick []byte
	_, err = Scan(f, func(r Record) error {
		if r.Kind != capture.MediaVideo {
			return nil
		}
		pick = r.Data
		if r.PTS >= at {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, fmt.Errorf("mediawriter: %s: %w", path, err)
	}
	if pick == nil {
		return nil, ErrNoVideo
	}
	img, _, err := image.Decode(bytes.NewReader(pick))
	if err != nil {
		return nil, fmt.Errorf("mediawriter: decode still frame: %w", err)
	}
	return img, nil
}
