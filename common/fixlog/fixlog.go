// Package fixlog writes decoded fixes to the csv track log that csvtokml
// reads back.
package fixlog

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/samiam2013/gnssfix/common/gps"
	"github.com/samiam2013/gnssfix/common/nmea"
)

// Header is the first row of every log.
var Header = []string{"unix_micro", "lat", "long", "alt", "sats", "fix", "hdop"}

type Writer struct {
	c  io.Closer
	cw *csv.Writer
}

// Create opens path for appending, writing the header if the file is new.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open fix log")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat fix log")
	}
	w := &Writer{c: f, cw: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := w.cw.Write(Header); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "write header")
		}
	}
	return w, nil
}

// NewWriter writes to any writer. The header is written immediately.
func NewWriter(w io.Writer) (*Writer, error) {
	fw := &Writer{cw: csv.NewWriter(w)}
	if err := fw.cw.Write(Header); err != nil {
		return nil, errors.Wrap(err, "write header")
	}
	return fw, nil
}

// Write appends one fix stamped with at and flushes it.
func (w *Writer) Write(fix nmea.PositionFix, at time.Time) error {
	row := []string{
		strconv.FormatInt(at.UnixMicro(), 10),
		strconv.FormatFloat(fix.Latitude, 'f', -1, 64),
		strconv.FormatFloat(fix.Longitude, 'f', -1, 64),
		strconv.FormatFloat(fix.Altitude, 'f', -1, 64),
		strconv.Itoa(fix.Satellites),
		strconv.Itoa(int(fix.Fix)),
		strconv.FormatFloat(fix.HDOP, 'f', -1, 64),
	}
	if err := w.cw.Write(row); err != nil {
		return errors.Wrap(err, "write fix")
	}
	w.cw.Flush()
	return errors.Wrap(w.cw.Error(), "flush fix")
}

func (w *Writer) Close() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return errors.Wrap(err, "flush fix log")
	}
	if w.c == nil {
		return nil
	}
	return w.c.Close()
}

// ReadRecords parses a log into track records. Rows with a zero latitude,
// or with latitude equal to longitude, are receiver garbage and skipped.
// Only the first three columns are required so older logs still load.
func ReadRecords(r io.Reader) ([]gps.GPSRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read fix log")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	// peel off the header
	rows = rows[1:]

	records := make([]gps.GPSRecord, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, errors.Errorf("row %d: want at least 3 columns, got %d", i+2, len(row))
		}
		unixMicro, err := strconv.ParseUint(row[0], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d: time", i+2)
		}
		lat, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d: latitude", i+2)
		}
		long, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d: longitude", i+2)
		}
		if lat == 0.0 || lat == long {
			continue
		}
		rec := gps.GPSRecord{UnixMicro: unixMicro, Lat: lat, Long: long}
		if len(row) > 4 {
			rec.Alt, _ = strconv.ParseFloat(row[3], 64)
			rec.NumSats, _ = strconv.ParseInt(row[4], 10, 64)
		}
		records = append(records, rec)
	}
	return records, nil
}
