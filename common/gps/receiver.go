package gps

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/samiam2013/gnssfix/common/nmea"
)

// Receiver is the consumer-facing handle on a GNSS device. It owns exactly
// one Engine and forwards every call to it.
type Receiver struct {
	engine *Engine
}

func NewReceiver(opts ...Option) *Receiver {
	return &Receiver{engine: NewEngine(opts...)}
}

func (r *Receiver) Open(ctx context.Context, device string, baud int) error {
	return r.engine.Open(ctx, device, baud)
}

func (r *Receiver) IsOpen() bool { return r.engine.IsOpen() }

func (r *Receiver) Close() error { return r.engine.Close() }

func (r *Receiver) TakeNext() (nmea.PositionFix, error) { return r.engine.TakeNext() }

func (r *Receiver) WaitForData(mask nmea.KindMask, timeout time.Duration) (nmea.KindMask, error) {
	return r.engine.WaitForData(mask, timeout)
}

func (r *Receiver) Stats() Stats { return r.engine.Stats() }

// Drain takes every buffered fix, oldest first.
func (r *Receiver) Drain() []nmea.PositionFix {
	var fixes []nmea.PositionFix
	for {
		fix, err := r.engine.TakeNext()
		if err != nil {
			return fixes
		}
		fixes = append(fixes, fix)
	}
}

// Consume waits for fixes of the kinds in mask and hands each one to fn,
// oldest first, until the session stops. Timeouts just wait again. ctx is
// only checked between waits; pass the ctx given to Open to stop promptly.
// Fixes still buffered when the session stops are handed to fn before it
// returns nil after a close or cancellation, ErrFailed when the device
// failed, or the first error fn returns.
func (r *Receiver) Consume(ctx context.Context, mask nmea.KindMask, timeout time.Duration, fn func(nmea.PositionFix) error) error {
	for ctx.Err() == nil {
		_, err := r.WaitForData(mask, timeout)
		switch {
		case errors.Is(err, ErrTimeout):
			continue
		case err != nil:
			// fixes buffered before the stop are still handed out
			if derr := r.each(fn); derr != nil {
				return derr
			}
			if ctx.Err() != nil || !r.Stats().Failed {
				return nil
			}
			return err
		}
		if err := r.each(fn); err != nil {
			return err
		}
	}
	return r.each(fn)
}

func (r *Receiver) each(fn func(nmea.PositionFix) error) error {
	for _, fix := range r.Drain() {
		if err := fn(fix); err != nil {
			return err
		}
	}
	return nil
}
