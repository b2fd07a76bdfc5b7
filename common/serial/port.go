// Package serial frames the byte stream of a GNSS receiver into NMEA lines.
package serial

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrClosed is returned by ReadLine once the source is closed.
var ErrClosed = errors.New("serial: line source closed")

// LineSource yields text lines from a device. ReadLine blocks until a full
// line is available and must return an error once Close has been called.
type LineSource interface {
	Open(device string, baud int) error
	IsOpen() bool
	Close() error
	ReadLine() (string, error)
}

// maxLine is far beyond the 82 characters NMEA 0183 allows.
const maxLine = 1024

// Opener opens a raw device connection.
type Opener func(device string, baud int) (io.ReadWriteCloser, error)

// Port is a LineSource over any Opener. Drivers that poll with a read
// timeout report idle reads through the idle func so the framer can check
// for closure between polls.
type Port struct {
	open Opener
	idle func(error) bool

	mu      sync.Mutex
	rwc     io.ReadWriteCloser
	device  string
	closed  atomic.Bool
	pending []byte
	buf     []byte
}

// NewPort returns a closed Port. A nil idle func treats every error as fatal.
func NewPort(open Opener, idle func(error) bool) *Port {
	if idle == nil {
		idle = func(error) bool { return false }
	}
	p := &Port{open: open, idle: idle, buf: make([]byte, 256)}
	p.closed.Store(true)
	return p
}

func (p *Port) Open(device string, baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rwc != nil {
		return errors.Errorf("serial: %s already open", p.device)
	}
	rwc, err := p.open(device, baud)
	if err != nil {
		return errors.Wrapf(err, "open %s at %d baud", device, baud)
	}
	p.rwc = rwc
	p.device = device
	p.pending = p.pending[:0]
	p.closed.Store(false)
	return nil
}

func (p *Port) IsOpen() bool {
	return !p.closed.Load()
}

// Close releases the device. A ReadLine blocked in another goroutine returns
// ErrClosed once the driver gives up its current read.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rwc == nil {
		return nil
	}
	p.closed.Store(true)
	err := p.rwc.Close()
	p.rwc = nil
	return errors.Wrapf(err, "close %s", p.device)
}

// ReadLine returns the next line without its terminator. It is meant to be
// called from a single reader goroutine.
func (p *Port) ReadLine() (string, error) {
	p.mu.Lock()
	rwc, device := p.rwc, p.device
	p.mu.Unlock()
	for {
		if p.closed.Load() || rwc == nil {
			return "", ErrClosed
		}
		if i := bytes.IndexByte(p.pending, '\n'); i >= 0 {
			line := string(bytes.TrimRight(p.pending[:i], "\r"))
			p.pending = p.pending[i+1:]
			return line, nil
		}
		if len(p.pending) > maxLine {
			// no terminator in sight, the receiver is sending garbage
			p.pending = p.pending[:0]
		}
		n, err := rwc.Read(p.buf)
		p.pending = append(p.pending, p.buf[:n]...)
		if err == nil {
			continue
		}
		if p.closed.Load() {
			return "", ErrClosed
		}
		if p.idle(err) {
			continue
		}
		if errors.Is(err, io.EOF) && len(p.pending) > 0 {
			line := string(bytes.TrimRight(p.pending, "\r"))
			p.pending = p.pending[:0]
			return line, nil
		}
		return "", errors.Wrapf(err, "read %s", device)
	}
}
