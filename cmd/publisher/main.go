package main

// publishes every fix from the receiver to an MQTT topic as JSON

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samiam2013/gnssfix/common/config"
	"github.com/samiam2013/gnssfix/common/gps"
	"github.com/samiam2013/gnssfix/common/nmea"
	"github.com/samiam2013/gnssfix/common/publish"
	"github.com/samiam2013/gnssfix/common/serial"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	var broker, topic string
	flag.StringVar(&broker, "broker", "", "MQTT broker url, overrides mqtt.broker")
	flag.StringVar(&topic, "topic", "", "MQTT topic, overrides mqtt.topic")
	flag.Parse()
	cfg, err := flags.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Could not load config")
	}
	if err := cfg.Log.Apply(); err != nil {
		logrus.WithError(err).Fatal("Could not set up logging")
	}
	if broker != "" {
		cfg.MQTT.Broker = broker
	}
	if topic != "" {
		cfg.MQTT.Topic = topic
	}

	pub, client, err := publish.Connect(cfg.MQTT)
	if err != nil {
		logrus.WithError(err).Fatal("Could not connect to MQTT broker")
	}
	defer client.Disconnect(250)

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

	session := receiver.Stats().Session
	err = receiver.Consume(ctx, nmea.MaskOf(nmea.KindGPGGA), cfg.Serial.WaitTimeout, func(fix nmea.PositionFix) error {
		if err := pub.Publish(fix, session, time.Now()); err != nil {
			// the broker may come back, keep reading
			logrus.WithError(err).Warn("Could not publish fix")
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).Error("Stopped publishing")
	}
}
