package gps

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/samiam2013/gnssfix/common/nmea"
	"github.com/samiam2013/gnssfix/common/serial"
)

var (
	// ErrIllegalOperation is returned when a call does not fit the lifecycle
	// state, such as opening twice or closing a closed engine.
	ErrIllegalOperation = errors.New("gps: illegal operation")
	// ErrNoData is returned by TakeNext when no fix is buffered.
	ErrNoData = errors.New("gps: no data")
	// ErrTimeout is returned by WaitForData when the timeout elapsed first.
	ErrTimeout = errors.New("gps: timeout")
	// ErrFailed reports a device failure or a shutdown during a wait.
	ErrFailed = errors.New("gps: failed")
)

// DefaultWaitTimeout applies when WaitForData is given no positive timeout.
const DefaultWaitTimeout = 365 * 24 * time.Hour

const (
	stateClosed = "closed"
	stateOpen   = "open"

	eventOpen  = "open"
	eventClose = "close"
)

// SourceFactory makes a fresh line source for every session.
type SourceFactory func() serial.LineSource

// Stats counts what the current (or last) session has seen.
type Stats struct {
	Session  string `json:"session"`
	Lines    uint64 `json:"lines"`
	Fixes    uint64 `json:"fixes"`
	Rejected uint64 `json:"rejected"`
	Dropped  uint64 `json:"dropped"`
	Failed   bool   `json:"failed"`
}

// Engine owns one device session at a time: a reading goroutine decodes
// lines into a bounded history that consumers drain with TakeNext after
// WaitForData reports readiness.
//
// Two locks are used. life serializes Open and Close. mu guards the history,
// readiness, the stats and the source pointer. The reading goroutine only
// ever takes mu, so Close may hold life while it joins the goroutine.
type Engine struct {
	factory  SourceFactory
	log      *logrus.Entry
	capacity int

	life   sync.Mutex
	state  *fsm.FSM
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	source  serial.LineSource
	history *history
	ready   nmea.KindMask
	running bool
	stats   Stats
	changed chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithSourceFactory replaces the default tarm serial source.
func WithSourceFactory(f SourceFactory) Option {
	return func(e *Engine) { e.factory = f }
}

func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.log = l }
}

// WithHistoryCapacity overrides HistoryCapacity.
func WithHistoryCapacity(n int) Option {
	return func(e *Engine) { e.capacity = n }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		capacity: HistoryCapacity,
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.factory == nil {
		e.factory = func() serial.LineSource {
			src, _ := serial.NewSource(serial.DefaultDriver)
			return src
		}
	}
	if e.log == nil {
		e.log = logrus.NewEntry(logrus.StandardLogger())
	}
	e.history = newHistory(e.capacity)
	e.state = fsm.NewFSM(
		stateClosed,
		fsm.Events{
			{Name: eventOpen, Src: []string{stateClosed}, Dst: stateOpen},
			{Name: eventClose, Src: []string{stateOpen}, Dst: stateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(ev *fsm.Event) {
				e.log.WithFields(logrus.Fields{"from": ev.Src, "to": ev.Dst}).Debug("lifecycle")
			},
		},
	)
	return e
}

// Open starts a session on device. Cancelling ctx stops the reading loop as
// if the device had failed; Close is still required afterwards.
func (e *Engine) Open(ctx context.Context, device string, baud int) error {
	e.life.Lock()
	defer e.life.Unlock()
	if !e.state.Can(eventOpen) {
		return ErrIllegalOperation
	}

	src := e.factory()
	if src == nil {
		return errors.Wrap(ErrFailed, "no line source")
	}
	if err := src.Open(device, baud); err != nil {
		e.log.WithError(err).WithField("device", device).Error("Could not open line source")
		return errors.Wrapf(ErrFailed, "open %s: %v", device, err)
	}

	session := uuid.New().String()
	log := e.log.WithFields(logrus.Fields{"session": session, "device": device, "baud": baud})

	e.mu.Lock()
	e.source = src
	e.history.clear()
	e.ready = nmea.MaskNone
	e.running = true
	e.stats = Stats{Session: session}
	e.mu.Unlock()

	if err := e.state.Event(eventOpen); err != nil {
		e.mu.Lock()
		e.source = nil
		e.running = false
		e.mu.Unlock()
		src.Close()
		return errors.Wrap(err, "lifecycle")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	context.AfterFunc(loopCtx, func() { e.stop(session, false, log) })
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.read(loopCtx, session, src, log)
	}()
	log.Info("Session started")
	return nil
}

// IsOpen reports whether a session is open and its line source still is.
func (e *Engine) IsOpen() bool {
	if !e.state.Is(stateOpen) {
		return false
	}
	e.mu.Lock()
	src := e.source
	e.mu.Unlock()
	return src != nil && src.IsOpen()
}

// Close ends the session. Every pending WaitForData returns ErrFailed. Fixes
// still buffered stay available to TakeNext.
func (e *Engine) Close() error {
	e.life.Lock()
	defer e.life.Unlock()
	if !e.state.Can(eventClose) {
		return ErrIllegalOperation
	}

	e.mu.Lock()
	e.running = false
	e.notify()
	session := e.stats.Session
	src := e.source
	e.mu.Unlock()
	// running is already false, so the cancel hook stays quiet
	e.cancel()

	closeErr := src.Close()
	e.wg.Wait()
	e.mu.Lock()
	e.source = nil
	e.mu.Unlock()
	e.cancel = nil

	if err := e.state.Event(eventClose); err != nil {
		return errors.Wrap(err, "lifecycle")
	}
	log := e.log.WithField("session", session)
	if closeErr != nil {
		log.WithError(closeErr).Error("Could not close line source")
		return errors.Wrapf(ErrFailed, "close: %v", closeErr)
	}
	log.Info("Session closed")
	return nil
}

// TakeNext removes and returns the oldest buffered fix. It never blocks.
func (e *Engine) TakeNext() (nmea.PositionFix, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fix, ok := e.history.popOldest()
	if !ok {
		return nmea.PositionFix{}, ErrNoData
	}
	if e.history.isEmpty() {
		e.ready.Clear(nmea.KindGPGGA)
	}
	return fix, nil
}

// WaitForData blocks until a kind in mask is ready, the session stops, or
// timeout elapses. On success it returns the ready kinds within mask.
// Readiness is not consumed here; TakeNext clears it once the history runs
// dry. A timeout <= 0 waits DefaultWaitTimeout.
func (e *Engine) WaitForData(mask nmea.KindMask, timeout time.Duration) (nmea.KindMask, error) {
	if !e.state.Is(stateOpen) {
		return nmea.MaskNone, ErrIllegalOperation
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		e.mu.Lock()
		got, done, err := e.check(mask)
		changed := e.changed
		e.mu.Unlock()
		if done {
			return got, err
		}

		select {
		case <-changed:
		case <-timer.C:
			e.mu.Lock()
			got, done, err = e.check(mask)
			e.mu.Unlock()
			if done {
				return got, err
			}
			return nmea.MaskNone, ErrTimeout
		}
	}
}

// check evaluates the wait predicate. Shutdown takes precedence over data.
// Must be called with mu held.
func (e *Engine) check(mask nmea.KindMask) (nmea.KindMask, bool, error) {
	if !e.running {
		return nmea.MaskNone, true, ErrFailed
	}
	if got := e.ready.Intersect(mask); !got.IsNone() {
		return got, true, nil
	}
	return nmea.MaskNone, false, nil
}

// Stats returns a snapshot of the session counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// notify wakes every waiter. Must be called with mu held.
func (e *Engine) notify() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) read(ctx context.Context, session string, src serial.LineSource, log *logrus.Entry) {
	for {
		line, err := src.ReadLine()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Error("Line source failed")
			e.stop(session, true, log)
			return
		}

		s, err := nmea.Decode(line)
		e.mu.Lock()
		e.stats.Lines++
		if err != nil {
			e.stats.Rejected++
			e.mu.Unlock()
			log.WithError(err).Debug("Rejected line")
			continue
		}
		if fix, ok := s.(nmea.PositionFix); ok {
			e.stats.Fixes++
			if e.history.push(fix) {
				e.stats.Dropped++
			}
			e.ready.Set(nmea.KindGPGGA)
			e.notify()
		}
		e.mu.Unlock()
	}
}

// stop ends waits for session. A stop arriving after the session was
// replaced is ignored.
func (e *Engine) stop(session string, failed bool, log *logrus.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.stats.Session != session {
		return
	}
	e.running = false
	e.stats.Failed = failed
	e.notify()
	if !failed {
		log.Info("Session cancelled")
	}
}
