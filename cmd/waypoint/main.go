package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/rpi"

	"github.com/samiam2013/gnssfix/common/config"
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

	if getProcessOwner() != "root" {
		logrus.Fatalf("Must be run as root. user given '%s'", getProcessOwner())
	}
	if _, err := host.Init(); err != nil {
		logrus.WithError(err).Fatal("Failed to host.Init() for periphio")
	}

	// turn off white
	white := rpi.P1_7
	if err := white.Out(gpio.Low); err != nil {
		logrus.WithError(err).Fatal("Failed to turn off white led")
	}

	// the engage button (side) arms the main button; each main button
	// press takes the current fix as a waypoint and flashes its number
	button := rpi.P1_33
	sideButton := rpi.P1_35
	if err := button.In(gpio.PullDown, gpio.BothEdges); err != nil {
		logrus.WithError(err).Fatal("Could not set main button pull down and mode.")
	}
	if err := sideButton.In(gpio.PullDown, gpio.BothEdges); err != nil {
		logrus.WithError(err).Fatal("Could not set side button pull down and mode.")
	}
	buttonLed, err := indicator.New(rpi.P1_29, cfg.Indicator.Pulse)
	if err != nil {
		logrus.WithError(err).Fatal("Could not set up button led")
	}
	sideButtonLed := rpi.P1_31
	sideButtonLed.Out(gpio.Low)

	var engage engageFlag
	go engage.watch(sideButton, sideButtonLed)

	factory, err := serial.Factory(cfg.Serial.Driver)
	if err != nil {
		logrus.WithError(err).Fatal("Could not pick a serial driver")
	}
	receiver := gps.NewReceiver(gps.WithSourceFactory(factory))
	if err := receiver.Open(context.Background(), cfg.Serial.Device, cfg.Serial.Baud); err != nil {
		logrus.WithError(err).Fatal("Could not open receiver")
	}
	defer receiver.Close()

	timeout := time.Second * 10
	waypointCount := 0
	lastWPTime := time.Now().Add(-1 * timeout)
	for {
		// don't take waypoints closer together than timeout
		if wait := time.Until(lastWPTime.Add(timeout)); wait > 0 {
			time.Sleep(wait)
		}
		button.WaitForEdge(-1)
		if !engage.get() {
			logrus.Error("Not engaged!")
			time.Sleep(time.Second * 10)
			continue
		}
		button.Read()

		// both edges fire, count presses on the rising one
		waypointCount++
		if waypointCount%2 == 0 {
			continue
		}
		fix, err := latestFix(receiver, cfg.Serial.WaitTimeout)
		if errors.Is(err, gps.ErrFailed) {
			logrus.WithError(err).Fatal("Receiver failed")
		}
		if err != nil {
			logrus.WithError(err).Error("Couldn't get waypoint.")
			continue
		}
		lastWPTime = time.Now()
		actualCount := (waypointCount + 1) / 2
		w := gps.RecordOf(fix, lastWPTime)
		fmt.Printf("%d,%f,%f,%d\n", w.UnixMicro, w.Lat, w.Long, actualCount)
		if err := buttonLed.Blink(actualCount, indicator.CountPeriod(actualCount)); err != nil {
			logrus.WithError(err).Warn("Could not flash waypoint count")
		}
	}
}

// latestFix returns the newest buffered fix, waiting for one if none is.
func latestFix(r *gps.Receiver, timeout time.Duration) (nmea.PositionFix, error) {
	fixes := r.Drain()
	if len(fixes) == 0 {
		if _, err := r.WaitForData(nmea.MaskOf(nmea.KindGPGGA), timeout); err != nil {
			return nmea.PositionFix{}, err
		}
		fixes = r.Drain()
	}
	if len(fixes) == 0 {
		return nmea.PositionFix{}, gps.ErrNoData
	}
	fix := fixes[len(fixes)-1]
	if fix.Fix == nmea.FixNone {
		return nmea.PositionFix{}, errors.New("receiver has no position fix yet")
	}
	return fix, nil
}

type engageFlag struct {
	mu   sync.Mutex
	flag bool
}

func (e *engageFlag) get() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flag
}

func (e *engageFlag) watch(button gpio.PinIn, led gpio.PinOut) {
	everyOther := true
	for {
		button.WaitForEdge(-1)
		everyOther = !everyOther
		if everyOther {
			continue
		}
		e.mu.Lock()
		e.flag = !e.flag
		on := e.flag
		e.mu.Unlock()
		led.Out(gpio.Level(on))
		// debounce
		time.Sleep(time.Second * 1)
	}
}

func getProcessOwner() string {
	stdout, err := exec.Command("ps", "-o", "user=", "-p", strconv.Itoa(os.Getpid())).Output()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return strings.Trim(string(stdout), "\n")
}
