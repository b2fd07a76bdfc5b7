package main

// logs every fix from the receiver to the csv track log csvtokml reads

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samiam2013/gnssfix/common/config"
	"github.com/samiam2013/gnssfix/common/fixlog"
	"github.com/samiam2013/gnssfix/common/gps"
	"github.com/samiam2013/gnssfix/common/nmea"
	"github.com/samiam2013/gnssfix/common/serial"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	var out string
	flag.StringVar(&out, "file", "", "Path of the csv log, overrides fixlog.path")
	flag.Parse()
	cfg, err := flags.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Could not load config")
	}
	if err := cfg.Log.Apply(); err != nil {
		logrus.WithError(err).Fatal("Could not set up logging")
	}
	if out == "" {
		out = cfg.FixLog.Path
	}

	w, err := fixlog.Create(out)
	if err != nil {
		logrus.WithError(err).Fatal("Could not open fix log")
	}
	defer w.Close()

	factory, err := serial.Factory(cfg.Serial.Driver)
	if err != nil {
		logrus.WithError(err).Fatal("Could not pick a serial driver")
	}
	receiver := gps.NewReceiver(gps.WithSourceFactory(factory))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := receiver.Open(ctx, cfg.Serial.Device, cfg.Serial.Baud); err != nil {
		logrus.WithError(err).Fatal("Could not open receiver")
	}
	defer receiver.Close()

	logged := 0
	err = receiver.Consume(ctx, nmea.MaskOf(nmea.KindGPGGA), cfg.Serial.WaitTimeout, func(fix nmea.PositionFix) error {
		if fix.Fix == nmea.FixNone {
			return nil
		}
		logged++
		return w.Write(fix, time.Now())
	})
	if err != nil {
		logrus.WithError(err).Error("Stopped logging")
	}
	logrus.WithFields(logrus.Fields{"file": out, "fixes": logged}).Info("Log closed")
}
