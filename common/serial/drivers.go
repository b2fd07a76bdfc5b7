package serial

import (
	"io"
	"sort"
	"time"

	jacobsa "github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// DefaultDriver is used when no driver is configured.
const DefaultDriver = "tarm"

// pollInterval bounds how long a close waits for a polling driver to notice.
const pollInterval = 500 * time.Millisecond

type driver struct {
	open Opener
	idle func(error) bool
}

var drivers = map[string]driver{
	"tarm":    {open: openTarm, idle: isEOF},
	"jacobsa": {open: openJacobsa, idle: isEOF},
	"bugst":   {open: openBugst, idle: isNoProgress},
	"file":    {open: openFile},
}

// Drivers lists the registered driver names.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSource returns a closed line source backed by the named driver.
func NewSource(name string) (LineSource, error) {
	if name == "" {
		name = DefaultDriver
	}
	d, ok := drivers[name]
	if !ok {
		return nil, errors.Errorf("serial: unknown driver %q", name)
	}
	return NewPort(d.open, d.idle), nil
}

// Factory returns a constructor making a fresh source per session.
func Factory(name string) (func() LineSource, error) {
	if _, err := NewSource(name); err != nil {
		return nil, err
	}
	return func() LineSource {
		src, _ := NewSource(name)
		return src
	}, nil
}

// tarm returns io.EOF from a read that timed out with no data.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

func isNoProgress(err error) bool {
	return errors.Is(err, io.ErrNoProgress)
}

func openTarm(device string, baud int) (io.ReadWriteCloser, error) {
	config := &tarm.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: pollInterval,
		Size:        8,
	}
	port, err := tarm.OpenPort(config)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func openJacobsa(device string, baud int) (io.ReadWriteCloser, error) {
	options := jacobsa.OpenOptions{
		PortName:              device,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            jacobsa.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: uint(pollInterval / time.Millisecond),
	}
	return jacobsa.Open(options)
}

func openBugst(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := bugst.Open(device, &bugst.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, err
	}
	return timeoutPort{port}, nil
}

// timeoutPort turns the empty read go.bug.st/serial returns on a timeout
// into io.ErrNoProgress.
type timeoutPort struct {
	bugst.Port
}

func (p timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, io.ErrNoProgress
	}
	return n, err
}
