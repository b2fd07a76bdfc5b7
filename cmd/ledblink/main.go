package main

// blinks the fix indicator led so its wiring can be checked without a
// receiver attached

import (
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samiam2013/gnssfix/common/config"
	"github.com/samiam2013/gnssfix/common/indicator"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	var pin string
	var count int
	flag.StringVar(&pin, "pin", "", "GPIO pin name, overrides indicator.pin")
	flag.IntVar(&count, "count", 5, "Number of blinks, 0 blinks until killed")
	flag.Parse()
	cfg, err := flags.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Could not load config")
	}
	if pin == "" {
		pin = cfg.Indicator.Pin
	}

	led, err := indicator.Open(pin, cfg.Indicator.Pulse)
	if err != nil {
		logrus.WithError(err).Fatal("Could not open led")
	}
	defer led.Off()

	t := time.NewTicker(1000 * time.Millisecond)
	defer t.Stop()
	for i := 0; count == 0 || i < count; i++ {
		logrus.WithField("pin", pin).Info("Tick")
		if err := led.Pulse(); err != nil {
			logrus.WithError(err).Fatal("Could not write to pin")
		}
		<-t.C
	}
}
