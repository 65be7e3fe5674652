package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/camrec/internal/capture"
	"github.com/breeze-rmm/camrec/internal/config"
	"github.com/breeze-rmm/camrec/internal/device"
	"github.com/breeze-rmm/camrec/internal/export"
	"github.com/breeze-rmm/camrec/internal/logging"
	"github.com/breeze-rmm/camrec/internal/mediawriter"
)

const (
	stopTimeout   = 10 * time.Second
	exportTimeout = 5 * time.Minute
)

var (
	cameraFlag     string
	qualityFlag    string
	containerFlag  string
	durationFlag   int
	backendFlag    string
	exportFlag     string
	outputDirFlag  string
	outputNameFlag string
	switchAt       time.Duration
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one clip from the camera and microphone",
	Long: `Record one clip. Recording stops at --duration seconds, or on SIGINT/SIGTERM.
A JPEG thumbnail is written next to the clip.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecord(cmd.Context())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices and the logical camera each maps to",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices(os.Stdout, devicesOutput)
	},
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&cameraFlag, "camera", "", "camera to start with: back or front")
	f.StringVar(&qualityFlag, "quality", "", "capture preset: low, medium or high")
	f.StringVar(&containerFlag, "container", "", "container type: mov or mp4")
	f.IntVar(&durationFlag, "duration", 0, "maximum recording length in seconds (0 disables the cap)")
	f.StringVar(&backendFlag, "backend", "", "capture backend: synthetic or v4l2")
	f.StringVar(&exportFlag, "export", "", "export destination URL (file://, s3://, gs://, azblob://, b2://)")
	f.StringVar(&outputDirFlag, "output-dir", "", "directory for the recording")
	f.StringVar(&outputNameFlag, "output-name", "", "fixed file name instead of a generated one")
	f.DurationVar(&switchAt, "switch-at", 0, "switch camera after this long (0 disables)")

	devicesCmd.Flags().StringVar(&backendFlag, "backend", "", "capture backend: synthetic or v4l2")
	devicesCmd.Flags().StringVarP(&devicesOutput, "output", "o", "text", "output format: text or yaml")
}

func applyRecordFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("camera") {
		c.Camera = cameraFlag
	}
	if flags.Changed("quality") {
		c.Quality = qualityFlag
	}
	if flags.Changed("container") {
		c.Container = containerFlag
	}
	if flags.Changed("duration") {
		c.MaxDurationSeconds = durationFlag
	}
	if flags.Changed("export") {
		c.Export = exportFlag
	}
	if flags.Changed("output-dir") {
		c.OutputDir = outputDirFlag
	}
	if flags.Changed("output-name") {
		c.OutputName = outputNameFlag
	}
}

// deviceOptions maps the config onto backend options.
func deviceOptions(c *config.Config) (device.Options, error) {
	opts := device.Options{
		FPS:            c.FPS,
		Width:          c.Synthetic.FrameWidth,
		Height:         c.Synthetic.FrameHeight,
		AudioChunk:     time.Duration(c.Synthetic.AudioChunkMs) * time.Millisecond,
		Microphone:     c.Synthetic.Microphone,
		DenyCamera:     c.Synthetic.DenyCamera,
		DenyMicrophone: c.Synthetic.DenyMicrophone,
	}
	for _, name := range c.Synthetic.Cameras {
		pos, err := device.ParsePosition(name)
		if err != nil {
			return device.Options{}, err
		}
		opts.Cameras = append(opts.Cameras, pos)
	}
	return opts, nil
}

// sessionOptions maps the config onto capture options. The values were
// validated by loadConfig.
func sessionOptions(c *config.Config) (capture.Options, error) {
	cam, err := capture.ParseCamera(c.Camera)
	if err != nil {
		return capture.Options{}, err
	}
	q, err := capture.ParseQuality(c.Quality)
	if err != nil {
		return capture.Options{}, err
	}
	ct, err := capture.ParseContainer(c.Container)
	if err != nil {
		return capture.Options{}, err
	}
	return capture.Options{
		Camera:          cam,
		Quality:         q,
		Container:       ct,
		OutputDir:       c.OutputDir,
		OutputName:      c.OutputName,
		MaxDuration:     time.Duration(c.MaxDurationSeconds) * time.Second,
		ThumbnailOffset: time.Duration(c.ThumbnailOffsetMs) * time.Millisecond,
	}, nil
}

// printDelegate reports progress on stdout and records the outcome.
type printDelegate struct {
	once     sync.Once
	done     chan struct{}
	artifact capture.Artifact
	err      error
}

func newPrintDelegate() *printDelegate {
	return &printDelegate{done: make(chan struct{})}
}

func (d *printDelegate) finish(a capture.Artifact, err error) {
	d.once.Do(func() {
		d.artifact, d.err = a, err
		close(d.done)
	})
}

func (d *printDelegate) CameraDenied() {
	fmt.Println("camera access denied")
	d.finish(capture.Artifact{}, capture.ErrCameraPermissionDenied)
}

func (d *printDelegate) MicrophoneDenied() {
	fmt.Println("microphone access denied")
	d.finish(capture.Artifact{}, capture.ErrMicrophonePermissionDenied)
}

func (d *printDelegate) Failed(err error) {
	fmt.Printf("recording failed: %v\n", err)
	d.finish(capture.Artifact{}, err)
}

func (d *printDelegate) Elapsed(seconds float64) {
	fmt.Printf("recorded %.1fs\n", seconds)
}

func (d *printDelegate) Finished(a capture.Artifact) {
	fmt.Printf("finished %s (%.2fs)\n", a.Path, a.Duration.Seconds())
	d.finish(a, nil)
}

func runRecord(ctx context.Context) error {
	devOpts, err := deviceOptions(cfg)
	if err != nil {
		return err
	}
	opts, err := sessionOptions(cfg)
	if err != nil {
		return err
	}
	// Parse the destination before claiming devices.
	var dest export.Provider
	if cfg.Export != "" {
		if dest, err = export.Open(cfg.Export); err != nil {
			return err
		}
	}

	rig, err := device.Open(cfg.Backend, devOpts)
	if err != nil {
		return err
	}

	del := newPrintDelegate()
	s := capture.NewSession(opts, capture.Dependencies{
		Permissions: rig,
		Devices:     rig,
		Backend:     rig,
		NewWriter:   mediawriter.Factory(mediawriter.Options{}),
		Inspector:   mediawriter.Inspector{},
	}, del)
	lg := logging.WithSession(log, s.ID())

	if !s.Ready() {
		err := s.Err()
		s.Stop()
		return fmt.Errorf("capture setup failed: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	s.Record()
	fmt.Printf("recording to %s with the %s camera\n", s.OutputPath(), s.Camera())
	if switchAt > 0 {
		t := time.AfterFunc(switchAt, func() {
			defer func() {
				// The session may have stopped between the state check and Record.
				if r := recover(); r != nil {
					var pe *capture.PreconditionError
					if err, ok := r.(error); !ok || !errors.As(err, &pe) {
						panic(r)
					}
				}
			}()
			switchMidRecording(s, lg, os.Stdout)
		})
		defer t.Stop()
	}

	select {
	case <-del.done:
	case <-sig:
		fmt.Println("\nstopping...")
		s.Stop()
	case <-ctx.Done():
		s.Stop()
	}

	select {
	case <-del.done:
	case <-time.After(stopTimeout):
		return errors.New("timed out waiting for the recording to finalize")
	}
	if del.err != nil {
		s.Stop()
		return del.err
	}

	m := s.Metrics()
	lg.Info("recording summary",
		"videoWritten", m.VideoWritten,
		"audioWritten", m.AudioWritten,
		"videoDropped", m.VideoDropped,
		"audioDropped", m.AudioDropped,
		"bytes", m.BytesWritten,
		"handoffMs", m.HandoffMs)

	thumb := ""
	if del.artifact.Thumbnail != nil {
		thumb = thumbnailPath(del.artifact.Path)
		if err := mediawriter.SaveThumbnail(thumb, del.artifact.Thumbnail, mediawriter.DefaultThumbnailSize); err != nil {
			lg.Warn("thumbnail not saved", logging.KeyPath, thumb, logging.KeyError, err.Error())
			thumb = ""
		} else {
			fmt.Printf("thumbnail %s\n", thumb)
		}
	}

	if dest != nil {
		ectx, cancel := context.WithTimeout(ctx, exportTimeout)
		defer cancel()
		if err := export.Files(ectx, dest, del.artifact.Path, thumb); err != nil {
			return err
		}
		fmt.Printf("exported to %s\n", dest)
	}
	return nil
}

func thumbnailPath(artifact string) string {
	return strings.TrimSuffix(artifact, filepath.Ext(artifact)) + ".jpg"
}

type cameraSwitcher interface {
	Pause()
	SwitchCamera() error
	State() capture.State
	Record()
	Camera() capture.Camera
}

// switchMidRecording pauses, flips the camera and resumes. Recording resumes
// even when the switch fails so the take keeps running on the old camera.
func switchMidRecording(s cameraSwitcher, lg *slog.Logger, out io.Writer) bool {
	s.Pause()
	err := s.SwitchCamera()
	if s.State() == capture.StatePaused {
		s.Record()
	}
	if err != nil {
		lg.Warn("camera switch failed", logging.KeyError, err.Error())
		return false
	}
	fmt.Fprintf(out, "switched to the %s camera\n", s.Camera())
	return true
}
