package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	Camera             string       `mapstructure:"camera"`
	Quality            string       `mapstructure:"quality"`
	Container          string       `mapstructure:"container"`
	MaxDurationSeconds int          `mapstructure:"max_duration_seconds"`
	OutputDir          string       `mapstructure:"output_dir"`
	OutputName         string       `mapstructure:"output_name"`
	ThumbnailOffsetMs  int          `mapstructure:"thumbnail_offset_ms"`
	Backend            string       `mapstructure:"backend"`
	Synthetic          SyntheticRig `mapstructure:"synthetic"`
	FPS                int          `mapstructure:"fps"`
	Export             string       `mapstructure:"export"`
	LogLevel           string       `mapstructure:"log_level"`
	LogFormat          string       `mapstructure:"log_format"`
	LogFile            string       `mapstructure:"log_file"`
}

// SyntheticRig describes the virtual hardware used by the synthetic backend.
type SyntheticRig struct {
	Cameras        []string `mapstructure:"cameras"` // positions: back, front, unspecified
	Microphone     bool     `mapstructure:"microphone"`
	DenyCamera     bool     `mapstructure:"deny_camera"`
	DenyMicrophone bool     `mapstructure:"deny_microphone"`
	AudioChunkMs   int      `mapstructure:"audio_chunk_ms"`
	FrameWidth     int      `mapstructure:"frame_width"`
	FrameHeight    int      `mapstructure:"frame_height"`
}

func Default() *Config {
	return &Config{
		Camera:             "back",
		Quality:            "high",
		Container:          "mov",
		MaxDurationSeconds: 10,
		OutputDir:          os.TempDir(),
		ThumbnailOffsetMs:  17, // ~1/60 s
		Backend:            "synthetic",
		Synthetic: SyntheticRig{
			Cameras:      []string{"back", "front"},
			Microphone:   true,
			AudioChunkMs: 20,
			FrameWidth:   320,
			FrameHeight:  240,
		},
		FPS:       30,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("camrec")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CAMREC")
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindEnv registers the flat keys so AutomaticEnv can see them during
// Unmarshal even when no config file mentions them.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"camera", "quality", "container", "max_duration_seconds", "output_dir",
		"output_name", "thumbnail_offset_ms", "backend", "fps", "export",
		"log_level", "log_format", "log_file",
	} {
		_ = v.BindEnv(key)
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "camrec")
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support", "camrec")
		}
		return "."
	default:
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, "camrec")
		}
		return "/etc/camrec"
	}
}
