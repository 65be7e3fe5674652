package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/camrec/internal/config"
	"github.com/breeze-rmm/camrec/internal/logging"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string

	cfg     *config.Config
	logSink *logging.RotatingWriter
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:          "camrec",
	Short:        "Camera and microphone recorder",
	Long:         `camrec records one audio/video file from a camera and the default microphone, with pause, resume and camera switching.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logSink != nil {
			_ = logSink.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the version number",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("camrec v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is camrec.yaml in the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this rotating file")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, applies command line
// overrides, validates, and initializes logging.
func loadConfig(cmd *cobra.Command) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded
	applyFlags(cmd, cfg)

	result := cfg.ValidateTiered()
	if err := initLogging(); err != nil {
		return err
	}
	for _, w := range result.Warnings {
		log.Warn("config validation", logging.KeyError, w.Error())
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			log.Error("config validation", logging.KeyError, f.Error())
		}
		return fmt.Errorf("invalid configuration: %w", result.Fatals[0])
	}
	return nil
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		c.LogFormat = logFormat
	}
	if flags.Changed("log-file") {
		c.LogFile = logFile
	}
	if cmd == recordCmd {
		applyRecordFlags(cmd, c)
	}
	if (cmd == recordCmd || cmd == devicesCmd) && flags.Changed("backend") {
		c.Backend = backendFlag
	}
}

func initLogging() error {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, 10, 3)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logSink = rw
		out = logging.TeeWriter(os.Stderr, rw)
		go reopenOnHangup(rw)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	return nil
}

// reopenOnHangup reopens the log file on SIGHUP so external rotation works.
func reopenOnHangup(rw *logging.RotatingWriter) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		if err := rw.Reopen(); err != nil {
			log.Warn("log reopen failed", logging.KeyError, err.Error())
		}
	}
}
