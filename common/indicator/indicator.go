// Package indicator drives a status LED on a GPIO pin.
package indicator

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pin is the output side of a periph gpio pin.
type Pin interface {
	Out(l gpio.Level) error
}

type LED struct {
	mu    sync.Mutex
	pin   Pin
	pulse time.Duration
	sleep func(time.Duration)
}

// New wraps pin and drives it low.
func New(pin Pin, pulse time.Duration) (*LED, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, errors.Wrap(err, "turn off led")
	}
	return &LED{pin: pin, pulse: pulse, sleep: time.Sleep}, nil
}

// Open initializes the host drivers and looks the pin up by name, like
// "GPIO5" or "P1_29".
func Open(name string, pulse time.Duration) (*LED, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host.Init() for periphio")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no gpio pin named %q", name)
	}
	return New(p, pulse)
}

// Pulse flashes the LED once.
func (l *LED) Pulse() error {
	return l.Blink(1, l.pulse)
}

// Blink flashes the LED n times, on and off for period each.
func (l *LED) Blink(n int, period time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < n; i++ {
		if err := l.pin.Out(gpio.High); err != nil {
			return errors.Wrap(err, "led on")
		}
		l.sleep(period)
		if err := l.pin.Out(gpio.Low); err != nil {
			return errors.Wrap(err, "led off")
		}
		l.sleep(period)
	}
	return nil
}

// CountPeriod is the blink period used to flash a count: larger counts
// blink faster so they stay readable.
func CountPeriod(count int) time.Duration {
	if count < 1 {
		count = 1
	}
	return time.Duration(float64(time.Second) / math.Log10(float64(count)*33))
}

func (l *LED) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pin.Out(gpio.Low)
}
