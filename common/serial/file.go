package serial

import (
	"io"
	"os"
	"time"
)

// openFile replays a captured NMEA log. Reads are paced to the given baud
// rate (ten bit times per byte) so a replay behaves like the live receiver;
// baud <= 0 replays as fast as the disk allows.
func openFile(path string, baud int) (io.ReadWriteCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &replay{f: f, baud: baud}, nil
}

type replay struct {
	f    *os.File
	baud int
}

func (r *replay) Read(b []byte) (int, error) {
	if len(b) > 64 {
		b = b[:64]
	}
	n, err := r.f.Read(b)
	if n > 0 && r.baud > 0 {
		time.Sleep(time.Duration(n) * 10 * time.Second / time.Duration(r.baud))
	}
	return n, err
}

func (r *replay) Write(b []byte) (int, error) {
	return len(b), nil
}

func (r *replay) Close() error {
	return r.f.Close()
}
