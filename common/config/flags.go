package config

import "flag"

// Flags binds -config and the overrides every tool accepts.
type Flags struct {
	path   string
	device string
	driver string
	baud   int
	level  string
}

func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.path, "config", "", "Path to a yaml config file")
	fs.StringVar(&f.device, "device", "", "Serial device the receiver is attached to")
	fs.StringVar(&f.driver, "driver", "", "Serial driver: tarm, jacobsa, bugst or file")
	fs.IntVar(&f.baud, "baud", 0, "Serial baud rate")
	fs.StringVar(&f.level, "log-level", "", "Log level")
	return f
}

// Load reads the config file and applies any flags that were set.
func (f *Flags) Load() (Config, error) {
	cfg, err := Load(f.path)
	if err != nil {
		return Config{}, err
	}
	if f.device != "" {
		cfg.Serial.Device = f.device
	}
	if f.driver != "" {
		cfg.Serial.Driver = f.driver
	}
	if f.baud != 0 {
		cfg.Serial.Baud = f.baud
	}
	if f.level != "" {
		cfg.Log.Level = f.level
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
