// Package config loads the yaml configuration shared by the gnssfix tools.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/samiam2013/gnssfix/common/serial"
)

type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Log       LogConfig       `yaml:"log"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
	Indicator IndicatorConfig `yaml:"indicator"`
	FixLog    FixLogConfig    `yaml:"fixlog"`
}

type SerialConfig struct {
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	Driver      string        `yaml:"driver"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

type HTTPConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type IndicatorConfig struct {
	Enable bool          `yaml:"enable"`
	Pin    string        `yaml:"pin"`
	Pulse  time.Duration `yaml:"pulse"`
}

type FixLogConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads path, fills in defaults and validates the result. An empty
// path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	return Parse(b)
}

// Parse decodes a yaml document the way Load does.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.Device == "" {
		c.Serial.Device = "/dev/ttyACM0"
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 9600
	}
	if c.Serial.Driver == "" {
		c.Serial.Driver = serial.DefaultDriver
	}
	if c.Serial.WaitTimeout == 0 {
		c.Serial.WaitTimeout = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "gnssfix"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "gnssfix/fix"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.Indicator.Pin == "" {
		c.Indicator.Pin = "GPIO5"
	}
	if c.Indicator.Pulse == 0 {
		c.Indicator.Pulse = 100 * time.Millisecond
	}
	if c.FixLog.Path == "" {
		c.FixLog.Path = "gps.log"
	}
}

func (c Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return errors.Errorf("serial.baud must be > 0, got %d", c.Serial.Baud)
	}
	if _, err := serial.NewSource(c.Serial.Driver); err != nil {
		return errors.Wrap(err, "serial.driver")
	}
	if c.Serial.WaitTimeout < 0 {
		return errors.New("serial.wait_timeout must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.MQTT.QoS > 2 {
		return errors.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Enable && c.MQTT.Topic == "" {
		return errors.New("mqtt.topic is required when mqtt.enable is true")
	}
	if c.Indicator.Pulse < 0 {
		return errors.New("indicator.pulse must not be negative")
	}
	return nil
}

// Apply configures the standard logrus logger.
func (c LogConfig) Apply() error {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return errors.Wrap(err, "log.level")
	}
	logrus.SetLevel(lvl)
	if c.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}
