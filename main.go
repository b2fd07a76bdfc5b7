package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/samiam2013/gnssfix/common/api"
	"github.com/samiam2013/gnssfix/common/config"
	"github.com/samiam2013/gnssfix/common/fixlog"
	"github.com/samiam2013/gnssfix/common/gps"
	"github.com/samiam2013/gnssfix/common/indicator"
	"github.com/samiam2013/gnssfix/common/nmea"
	"github.com/samiam2013/gnssfix/common/serial"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()
	cfg, err := flags.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Could not load config")
	}
	if err := cfg.Log.Apply(); err != nil {
		logrus.WithError(err).Fatal("Could not set up logging")
	}

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
	// close on the first signal so every wait returns
	go func() {
		<-ctx.Done()
		closeReceiver(receiver)
	}()

	handlers := []func(nmea.PositionFix) error{display}
	if cfg.FixLog.Enable {
		w, err := fixlog.Create(cfg.FixLog.Path)
		if err != nil {
			logrus.WithError(err).Fatal("Could not open fix log")
		}
		defer w.Close()
		handlers = append(handlers, func(fix nmea.PositionFix) error {
			return w.Write(fix, time.Now())
		})
	}
	if cfg.Indicator.Enable {
		led, err := indicator.Open(cfg.Indicator.Pin, cfg.Indicator.Pulse)
		if err != nil {
			logrus.WithError(err).Fatal("Could not open indicator led")
		}
		defer led.Off()
		handlers = append(handlers, func(nmea.PositionFix) error {
			if err := led.Pulse(); err != nil {
				logrus.WithError(err).Warn("Could not pulse indicator led")
			}
			return nil
		})
	}
	if cfg.HTTP.Enable {
		srv := &http.Server{Addr: cfg.HTTP.Listen, Handler: api.NewRouter(receiver, cfg.Serial.WaitTimeout)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Error("HTTP server stopped")
			}
		}()
		defer srv.Close()
	}

	err = receiver.Consume(ctx, nmea.MaskOf(nmea.KindGPGGA), cfg.Serial.WaitTimeout, func(fix nmea.PositionFix) error {
		for _, handle := range handlers {
			if err := handle(fix); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).Error("Stopped reading fixes")
	}
	closeReceiver(receiver)
	stats := receiver.Stats()
	logrus.WithFields(logrus.Fields{
		"lines":    stats.Lines,
		"fixes":    stats.Fixes,
		"rejected": stats.Rejected,
		"dropped":  stats.Dropped,
	}).Info("Done")
}

func closeReceiver(r *gps.Receiver) {
	if err := r.Close(); err != nil && !errors.Is(err, gps.ErrIllegalOperation) {
		logrus.WithError(err).Error("Could not close receiver")
	}
}

func display(fix nmea.PositionFix) error {
	fmt.Printf("%s lat: %.6f lon: %.6f alt: %.1fm sats: %d (%s)\n",
		fix.TimeOfDay(), fix.Latitude, fix.Longitude, fix.Altitude, fix.Satellites, fix.Fix)
	return nil
}
