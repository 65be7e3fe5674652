package config

import (
	"fmt"
	"log/slog"
	"strings"
)

var knownCameras = map[string]bool{
	"back":  true,
	"front": true,
}

var knownQualities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

var knownContainers = map[string]bool{
	"mov": true,
	"mp4": true,
}

var knownBackends = map[string]bool{
	"synthetic": true,
	"v4l2":      true,
}

var knownPositions = map[string]bool{
	"back":        true,
	"front":       true,
	"unspecified": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

const (
	minFPS            = 1
	maxFPS            = 60
	maxDurationCapSec = 3600
	maxThumbOffsetMs  = 5000
)

// ValidationResult separates errors that must stop the program from values
// that were clamped to a usable range.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config and sorts findings into fatals and
// warnings. Out-of-range numbers are clamped in place.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if !knownCameras[strings.ToLower(c.Camera)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("camera %q is not valid (use back or front)", c.Camera))
	}
	if !knownQualities[strings.ToLower(c.Quality)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("quality %q is not valid (use low, medium or high)", c.Quality))
	}
	if !knownContainers[strings.ToLower(c.Container)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("container %q is not valid (use mov or mp4)", c.Container))
	}
	if !knownBackends[strings.ToLower(c.Backend)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("backend %q is not valid (use synthetic or v4l2)", c.Backend))
	}
	if strings.ContainsAny(c.OutputName, `/\`) {
		result.Fatals = append(result.Fatals, fmt.Errorf("output_name %q must be a bare file name", c.OutputName))
	}
	for _, pos := range c.Synthetic.Cameras {
		if !knownPositions[strings.ToLower(pos)] {
			result.Fatals = append(result.Fatals, fmt.Errorf("synthetic camera position %q is not valid", pos))
		}
	}

	if c.FPS < minFPS {
		result.Warnings = append(result.Warnings, fmt.Errorf("fps %d is below minimum %d, clamping", c.FPS, minFPS))
		c.FPS = minFPS
	} else if c.FPS > maxFPS {
		result.Warnings = append(result.Warnings, fmt.Errorf("fps %d exceeds maximum %d, clamping", c.FPS, maxFPS))
		c.FPS = maxFPS
	}

	// Zero means no cap.
	if c.MaxDurationSeconds < 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_duration_seconds %d is negative, disabling the cap", c.MaxDurationSeconds))
		c.MaxDurationSeconds = 0
	} else if c.MaxDurationSeconds > maxDurationCapSec {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_duration_seconds %d exceeds maximum %d, clamping", c.MaxDurationSeconds, maxDurationCapSec))
		c.MaxDurationSeconds = maxDurationCapSec
	}

	if c.ThumbnailOffsetMs < 0 || c.ThumbnailOffsetMs > maxThumbOffsetMs {
		result.Warnings = append(result.Warnings, fmt.Errorf("thumbnail_offset_ms %d is out of range, using 17", c.ThumbnailOffsetMs))
		c.ThumbnailOffsetMs = 17
	}

	if c.Synthetic.AudioChunkMs < 5 || c.Synthetic.AudioChunkMs > 200 {
		result.Warnings = append(result.Warnings, fmt.Errorf("synthetic.audio_chunk_ms %d is out of range, using 20", c.Synthetic.AudioChunkMs))
		c.Synthetic.AudioChunkMs = 20
	}
	if c.Synthetic.FrameWidth < 16 || c.Synthetic.FrameHeight < 16 {
		result.Warnings = append(result.Warnings, fmt.Errorf("synthetic frame size %dx%d is too small, using 320x240", c.Synthetic.FrameWidth, c.Synthetic.FrameHeight))
		c.Synthetic.FrameWidth = 320
		c.Synthetic.FrameHeight = 240
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return result
}

// Validate runs ValidateTiered, logs every finding and returns them all.
func (c *Config) Validate() []error {
	result := c.ValidateTiered()

	errs := make([]error, 0, len(result.Fatals)+len(result.Warnings))
	for _, err := range result.Fatals {
		slog.Error("config validation", "error", err)
		errs = append(errs, err)
	}
	for _, err := range result.Warnings {
		slog.Warn("config validation", "error", err)
		errs = append(errs, err)
	}
	return errs
}
