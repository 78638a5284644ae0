package camsession

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MQTTConfig configures the optional telemetry listener.
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// FileConfig is the on-disk session configuration.
type FileConfig struct {
	DeviceID string `yaml:"device_id"`

	Outputs SessionOutputs `yaml:"outputs"`
	Startup StartupConfig  `yaml:"startup"`

	// MaxMemoryBytes is the image consumer's memory budget. Zero keeps the
	// consumer's default.
	MaxMemoryBytes uint64 `yaml:"max_memory_bytes"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// DefaultConfig returns the configuration used when a field is absent from
// the file.
func DefaultConfig() FileConfig {
	return FileConfig{
		DeviceID: "0",
		Outputs: SessionOutputs{
			Raw:               OutputConfig{Width: 4032, Height: 3024},
			Preview:           OutputConfig{Width: 1920, Height: 1080},
			MaxBufferedImages: 8,
		},
		Startup: StartupConfig{
			FrameRate: 30,
		},
	}
}

// LoadConfig reads and validates a yaml configuration file. Missing fields
// keep their defaults.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("camsession: read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("camsession: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the fields the session cannot default.
func (c *FileConfig) Validate() error {
	switch {
	case c.DeviceID == "":
		return fmt.Errorf("%w: device_id is required", ErrInvalidConfig)
	case c.Outputs.Raw.Width <= 0 || c.Outputs.Raw.Height <= 0:
		return fmt.Errorf("%w: outputs.raw size is required", ErrInvalidConfig)
	case c.Outputs.Preview.Width <= 0 || c.Outputs.Preview.Height <= 0:
		return fmt.Errorf("%w: outputs.preview size is required", ErrInvalidConfig)
	case c.Startup.FrameRate <= 0:
		return fmt.Errorf("%w: startup.frame_rate must be positive", ErrInvalidConfig)
	case c.Startup.UseUserExposure && (c.Startup.UserIso <= 0 || c.Startup.UserExposureNs <= 0):
		return fmt.Errorf("%w: user exposure requires user_iso and user_exposure_ns", ErrInvalidConfig)
	}
	return nil
}
