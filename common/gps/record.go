package gps

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samiam2013/gnssfix/common/nmea"
)

// turnThreshold is the heading change in degrees that counts as a turn.
const turnThreshold = 5.0

// GPSRecord is one point of a recorded track.
type GPSRecord struct {
	UnixMicro uint64
	Lat       float64
	Long      float64
	Alt       float64
	NumSats   int64
}

// RecordOf stamps a fix with the time it was taken off the receiver.
func RecordOf(fix nmea.PositionFix, at time.Time) GPSRecord {
	return GPSRecord{
		UnixMicro: uint64(at.UnixMicro()),
		Lat:       fix.Latitude,
		Long:      fix.Longitude,
		Alt:       fix.Altitude,
		NumSats:   int64(fix.Satellites),
	}
}

// to get the actual heading spin 90 degrees counterclockwise
func getUnitCirAngle(from, to GPSRecord) float64 {
	// handle the edge case of heading directly north or south
	if to.Long == from.Long {
		if to.Lat == from.Lat {
			return 0.0
		} else if to.Lat > from.Lat {
			return 90.0 // straight north
		}
		return 270.0 // straight south
	}
	deg := math.Atan((to.Lat-from.Lat)/(to.Long-from.Long)) / (math.Pi * 2) * 360.0
	if to.Long > from.Long {
		// headed east
		if to.Lat >= from.Lat {
			return deg
		}
		return deg + 360
	}
	// headed west
	return 180 + deg
}

// Turned reports whether the heading g -> from differs from from -> to by
// more than turnThreshold degrees.
func (g GPSRecord) Turned(from, to GPSRecord) bool {
	oldAngle := getUnitCirAngle(g, from)
	newAngle := getUnitCirAngle(from, to)
	turned := math.Abs(oldAngle-newAngle) > turnThreshold
	if turned {
		logrus.WithFields(logrus.Fields{"old": oldAngle, "new": newAngle}).Debug("Turned")
	}
	return turned
}

// CaptureWaypoints thins a track down to the points worth keeping: one at
// least every interval, plus every point where the heading turned.
func CaptureWaypoints(data []GPSRecord, interval time.Duration) []GPSRecord {
	if len(data) == 0 {
		return nil
	}
	every := uint64(interval / time.Microsecond)
	lastWaypointTime := data[0].UnixMicro
	filtered := []GPSRecord{data[0]}
	for i := 1; i < len(data); i++ {
		coord := data[i]
		elapsed := coord.UnixMicro > lastWaypointTime+every
		if elapsed || (i >= 2 && data[i-2].Turned(data[i-1], coord)) {
			filtered = append(filtered, coord)
			lastWaypointTime = coord.UnixMicro
		}
	}
	return filtered
}
