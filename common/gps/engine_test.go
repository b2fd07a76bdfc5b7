package gps

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gonmea "github.com/adrianmo/go-nmea"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samiam2013/gnssfix/common/nmea"
	"github.com/samiam2013/gnssfix/common/serial"
)

// fakeSource is a LineSource fed through channels.
type fakeSource struct {
	lines    chan string
	fail     chan error
	done     chan struct{}
	once     sync.Once
	open     atomic.Bool
	openErr  error
	closeErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		lines: make(chan string),
		fail:  make(chan error),
		done:  make(chan struct{}),
	}
}

func (f *fakeSource) Open(string, int) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.open.Store(true)
	return nil
}

func (f *fakeSource) IsOpen() bool { return f.open.Load() }

func (f *fakeSource) Close() error {
	f.open.Store(false)
	f.once.Do(func() { close(f.done) })
	return f.closeErr
}

func (f *fakeSource) ReadLine() (string, error) {
	select {
	case line := <-f.lines:
		return line, nil
	case err := <-f.fail:
		return "", err
	case <-f.done:
		return "", serial.ErrClosed
	}
}

// sources hands out prepared fake sources in order.
type sources struct {
	mu   sync.Mutex
	list []*fakeSource
}

func (s *sources) next() serial.LineSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.list[0]
	s.list = s.list[1:]
	return src
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestEngine(t *testing.T, srcs ...*fakeSource) *Engine {
	t.Helper()
	pool := &sources{list: srcs}
	return NewEngine(WithSourceFactory(pool.next), WithLogger(quietLogger()))
}

func openEngine(t *testing.T) (*Engine, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	e := newTestEngine(t, src)
	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))
	t.Cleanup(func() { e.Close() })
	return e, src
}

// gga builds a valid GPGGA sentence whose timestamp is 120000+n.
func gga(n int) string {
	body := fmt.Sprintf("GPGGA,%06d.000,5703.1740,N,00954.9459,E,1,7,1.97,-21.2,M,42.5,M,,", 120000+n)
	return "$" + body + "*" + gonmea.Checksum(body)
}

func waitFixes(t *testing.T, e *Engine, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return e.Stats().Fixes >= n },
		time.Second, time.Millisecond)
}

func TestEngineLifecycle(t *testing.T) {
	e := newTestEngine(t, newFakeSource(), newFakeSource())
	assert.False(t, e.IsOpen())
	assert.ErrorIs(t, e.Close(), ErrIllegalOperation)

	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))
	assert.True(t, e.IsOpen())
	assert.ErrorIs(t, e.Open(context.Background(), "/dev/ttyACM0", 9600), ErrIllegalOperation)
	first := e.Stats().Session
	assert.NotEmpty(t, first)

	require.NoError(t, e.Close())
	assert.False(t, e.IsOpen())
	assert.ErrorIs(t, e.Close(), ErrIllegalOperation)

	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))
	assert.NotEqual(t, first, e.Stats().Session)
	require.NoError(t, e.Close())
}

func TestEngineOpenFailure(t *testing.T) {
	bad := newFakeSource()
	bad.openErr = errors.New("permission denied")
	e := newTestEngine(t, bad, newFakeSource())

	err := e.Open(context.Background(), "/dev/ttyS9", 4800)
	assert.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, err.Error(), "permission denied")
	assert.False(t, e.IsOpen())
	assert.ErrorIs(t, e.Close(), ErrIllegalOperation)

	require.NoError(t, e.Open(context.Background(), "/dev/ttyS9", 4800))
	require.NoError(t, e.Close())
}

func TestEngineCloseFailure(t *testing.T) {
	src := newFakeSource()
	src.closeErr = errors.New("i/o error")
	e := newTestEngine(t, src, newFakeSource())
	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))

	assert.ErrorIs(t, e.Close(), ErrFailed)
	assert.False(t, e.IsOpen())
	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))
	require.NoError(t, e.Close())
}

func TestWaitForDataNotOpen(t *testing.T) {
	e := newTestEngine(t)
	got, err := e.WaitForData(nmea.MaskAll, time.Millisecond)
	assert.ErrorIs(t, err, ErrIllegalOperation)
	assert.Equal(t, nmea.MaskNone, got)
}

func TestWaitForDataTimeout(t *testing.T) {
	e, _ := openEngine(t)
	start := time.Now()
	got, err := e.WaitForData(nmea.MaskOf(nmea.KindGPGGA), 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, nmea.MaskNone, got)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestWaitForDataWakesOnFix(t *testing.T) {
	e, src := openEngine(t)

	type result struct {
		mask nmea.KindMask
		err  error
	}
	resC := make(chan result, 1)
	go func() {
		m, err := e.WaitForData(nmea.MaskOf(nmea.KindGPGGA), 0)
		resC <- result{m, err}
	}()
	src.lines <- gga(1)

	select {
	case res := <-resC:
		require.NoError(t, res.err)
		assert.Equal(t, nmea.MaskOf(nmea.KindGPGGA), res.mask)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by a fix")
	}

	fix, err := e.TakeNext()
	require.NoError(t, err)
	assert.Equal(t, gga(1), fix.Raw())
	assert.InDelta(t, 57.052900, fix.Latitude, 1e-6)

	_, err = e.TakeNext()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestReadinessClearedWhenHistoryEmpties(t *testing.T) {
	e, src := openEngine(t)
	gpgga := nmea.MaskOf(nmea.KindGPGGA)
	src.lines <- gga(1)
	src.lines <- gga(2)
	waitFixes(t, e, 2)

	// waiting does not consume readiness
	for i := 0; i < 3; i++ {
		got, err := e.WaitForData(gpgga, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, gpgga, got)
	}

	_, err := e.TakeNext()
	require.NoError(t, err)
	_, err = e.WaitForData(gpgga, time.Millisecond)
	require.NoError(t, err, "one fix still buffered")

	_, err = e.TakeNext()
	require.NoError(t, err)
	_, err = e.WaitForData(gpgga, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForDataMaskNarrowing(t *testing.T) {
	e, src := openEngine(t)
	src.lines <- gga(1)
	waitFixes(t, e, 1)

	got, err := e.WaitForData(nmea.MaskAll, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, nmea.MaskOf(nmea.KindGPGGA), got)

	other := nmea.KindMask(1 << 4)
	got, err = e.WaitForData(other, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, nmea.MaskNone, got)

	got, err = e.WaitForData(nmea.MaskNone, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, nmea.MaskNone, got)
}

func TestRejectedLinesLeaveReadinessAlone(t *testing.T) {
	e, src := openEngine(t)
	rmcBody := "GPRMC,081836,A,3751.65,S,14507.36,E,000.0,360.0,130998,011.3,E"
	src.lines <- "$" + rmcBody + "*" + gonmea.Checksum(rmcBody)
	src.lines <- "garbage"
	src.lines <- gga(1)[:20] + "*00"
	require.Eventually(t, func() bool { return e.Stats().Lines == 3 }, time.Second, time.Millisecond)

	_, err := e.WaitForData(nmea.MaskAll, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	stats := e.Stats()
	assert.Equal(t, uint64(3), stats.Rejected)
	assert.Equal(t, uint64(0), stats.Fixes)
	_, err = e.TakeNext()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestHistoryOverflowDropsOldest(t *testing.T) {
	e, src := openEngine(t)
	for i := 0; i < 15; i++ {
		src.lines <- gga(i)
	}
	waitFixes(t, e, 15)
	assert.Equal(t, uint64(5), e.Stats().Dropped)

	for i := 5; i < 15; i++ {
		fix, err := e.TakeNext()
		require.NoError(t, err)
		assert.Equal(t, float64(120000+i), fix.Timestamp)
	}
	_, err := e.TakeNext()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestCloseWakesAllWaiters(t *testing.T) {
	src := newFakeSource()
	e := newTestEngine(t, src)
	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))

	const waiters = 5
	errC := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := e.WaitForData(nmea.MaskAll, 0)
			errC <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Close())

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errC:
			assert.ErrorIs(t, err, ErrFailed)
		case <-time.After(time.Second):
			t.Fatal("waiter still blocked after Close")
		}
	}
}

func TestSourceFailureResolvesWaits(t *testing.T) {
	broken, fresh := newFakeSource(), newFakeSource()
	e := newTestEngine(t, broken, fresh)
	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))

	errC := make(chan error, 1)
	go func() {
		_, err := e.WaitForData(nmea.MaskAll, 0)
		errC <- err
	}()
	broken.fail <- errors.New("device unplugged")

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, ErrFailed)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by a source failure")
	}
	assert.True(t, e.Stats().Failed)
	_, err := e.WaitForData(nmea.MaskAll, time.Millisecond)
	assert.ErrorIs(t, err, ErrFailed, "failure persists until reopened")

	require.NoError(t, e.Close())
	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))
	defer e.Close()
	assert.False(t, e.Stats().Failed)
	fresh.lines <- gga(7)
	got, err := e.WaitForData(nmea.MaskAll, time.Second)
	require.NoError(t, err)
	assert.Equal(t, nmea.MaskOf(nmea.KindGPGGA), got)
}

func TestContextCancelStopsSession(t *testing.T) {
	src := newFakeSource()
	e := newTestEngine(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Open(ctx, "/dev/ttyACM0", 9600))

	cancel()
	_, err := e.WaitForData(nmea.MaskAll, time.Second)
	assert.ErrorIs(t, err, ErrFailed)
	assert.False(t, e.Stats().Failed)
	require.NoError(t, e.Close())
}

func TestHistorySurvivesClose(t *testing.T) {
	src := newFakeSource()
	e := newTestEngine(t, src)
	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))
	src.lines <- gga(3)
	waitFixes(t, e, 1)
	require.NoError(t, e.Close())

	fix, err := e.TakeNext()
	require.NoError(t, err)
	assert.Equal(t, 120003.0, fix.Timestamp)
}

func TestReceiverDrain(t *testing.T) {
	src := newFakeSource()
	r := NewReceiver(WithSourceFactory(func() serial.LineSource { return src }), WithLogger(quietLogger()))
	require.NoError(t, r.Open(context.Background(), "/dev/ttyACM0", 9600))
	defer r.Close()
	assert.True(t, r.IsOpen())

	for i := 0; i < 3; i++ {
		src.lines <- gga(i)
	}
	require.Eventually(t, func() bool { return r.Stats().Fixes == 3 }, time.Second, time.Millisecond)

	got, err := r.WaitForData(nmea.MaskOf(nmea.KindGPGGA), time.Second)
	require.NoError(t, err)
	assert.True(t, got.IsSet(nmea.KindGPGGA))

	fixes := r.Drain()
	require.Len(t, fixes, 3)
	assert.Equal(t, 120000.0, fixes[0].Timestamp)
	assert.Equal(t, 120002.0, fixes[2].Timestamp)
	assert.Empty(t, r.Drain())
	_, err = r.TakeNext()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestReceiverConsume(t *testing.T) {
	src := newFakeSource()
	r := NewReceiver(WithSourceFactory(func() serial.LineSource { return src }), WithLogger(quietLogger()))
	require.NoError(t, r.Open(context.Background(), "/dev/ttyACM0", 9600))

	var got []float64
	errC := make(chan error, 1)
	go func() {
		errC <- r.Consume(context.Background(), nmea.MaskAll, 10*time.Millisecond, func(fix nmea.PositionFix) error {
			got = append(got, fix.Timestamp)
			return nil
		})
	}()
	for i := 0; i < 3; i++ {
		src.lines <- gga(i)
	}
	require.Eventually(t, func() bool { return r.Stats().Fixes == 3 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-errC:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after Close")
	}
	assert.Equal(t, []float64{120000, 120001, 120002}, got)
}

func TestReceiverConsumeSourceFailure(t *testing.T) {
	src := newFakeSource()
	r := NewReceiver(WithSourceFactory(func() serial.LineSource { return src }), WithLogger(quietLogger()))
	require.NoError(t, r.Open(context.Background(), "/dev/ttyACM0", 9600))
	defer r.Close()

	errC := make(chan error, 1)
	go func() {
		errC <- r.Consume(context.Background(), nmea.MaskAll, 0, func(nmea.PositionFix) error { return nil })
	}()
	src.fail <- errors.New("device unplugged")

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, ErrFailed)
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after a source failure")
	}
}

func TestReceiverConsumeHandlerError(t *testing.T) {
	src := newFakeSource()
	r := NewReceiver(WithSourceFactory(func() serial.LineSource { return src }), WithLogger(quietLogger()))
	require.NoError(t, r.Open(context.Background(), "/dev/ttyACM0", 9600))
	defer r.Close()

	errC := make(chan error, 1)
	go func() {
		errC <- r.Consume(context.Background(), nmea.MaskAll, 0, func(nmea.PositionFix) error {
			return errors.New("disk full")
		})
	}()
	src.lines <- gga(1)

	select {
	case err := <-errC:
		assert.EqualError(t, err, "disk full")
	case <-time.After(time.Second):
		t.Fatal("Consume did not stop on a handler error")
	}
}

func TestReceiverConsumeDrainsAfterClose(t *testing.T) {
	src := newFakeSource()
	r := NewReceiver(WithSourceFactory(func() serial.LineSource { return src }), WithLogger(quietLogger()))
	require.NoError(t, r.Open(context.Background(), "/dev/ttyACM0", 9600))
	for i := 0; i < 3; i++ {
		src.lines <- gga(i)
	}
	require.Eventually(t, func() bool { return r.Stats().Fixes == 3 }, time.Second, time.Millisecond)
	require.NoError(t, r.Close())

	var got []float64
	err := r.Consume(context.Background(), nmea.MaskAll, time.Second, func(fix nmea.PositionFix) error {
		got = append(got, fix.Timestamp)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{120000, 120001, 120002}, got)
	assert.Empty(t, r.Drain())
}

func TestCloseDoesNotLogCancellation(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	ctxLogger, ctxHook := logtest.NewNullLogger()

	e := NewEngine(WithSourceFactory(func() serial.LineSource { return newFakeSource() }),
		WithLogger(logrus.NewEntry(logger)))
	require.NoError(t, e.Open(context.Background(), "/dev/ttyACM0", 9600))
	require.NoError(t, e.Close())
	time.Sleep(20 * time.Millisecond)
	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, "Session cancelled", entry.Message)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e = NewEngine(WithSourceFactory(func() serial.LineSource { return newFakeSource() }),
		WithLogger(logrus.NewEntry(ctxLogger)))
	require.NoError(t, e.Open(ctx, "/dev/ttyACM0", 9600))
	cancel()
	require.Eventually(t, func() bool {
		for _, entry := range ctxHook.AllEntries() {
			if entry.Message == "Session cancelled" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	require.NoError(t, e.Close())
}
