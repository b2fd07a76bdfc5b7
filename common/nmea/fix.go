package nmea

import (
	"math"
	"time"
)

// Sentence is a successfully decoded NMEA 0183 sentence. The set of
// implementations is closed: add a kind by adding a type here and a grammar
// entry in decode.go.
type Sentence interface {
	Kind() Kind
	Raw() string
	isSentence()
}

// FixQuality is the GPS quality indicator of a GGA sentence.
type FixQuality int

const (
	FixNone FixQuality = 0
	FixGPS  FixQuality = 1
	FixDGPS FixQuality = 2
)

func (q FixQuality) String() string {
	switch q {
	case FixNone:
		return "no fix"
	case FixGPS:
		return "fix"
	case FixDGPS:
		return "differential fix"
	default:
		return "unknown"
	}
}

const (
	// NoDGPSAge is the DGPSAge of a fix that carried no differential data age.
	NoDGPSAge = -1.0
	// NoDGPSStation is the DGPSStation of a fix that carried no reference station.
	NoDGPSStation = 0
)

// PositionFix holds a decoded GPGGA sentence. Latitude is positive north and
// longitude positive east whatever bearing letters were on the wire.
type PositionFix struct {
	Message     string     `json:"message"`
	Timestamp   float64    `json:"timestamp"` // hhmmss.sss UTC, as transmitted
	Latitude    float64    `json:"lat"`
	Longitude   float64    `json:"lon"`
	Fix         FixQuality `json:"fix"`
	Satellites  int        `json:"satellites"`
	HDOP        float64    `json:"hdop"`
	Altitude    float64    `json:"altitude"`     // meters above mean sea level
	GeoidHeight float64    `json:"geoid_height"` // meters, geoid above WGS84 ellipsoid
	DGPSAge     float64    `json:"dgps_age"`     // seconds, NoDGPSAge when absent
	DGPSStation int        `json:"dgps_station"`
}

func (PositionFix) Kind() Kind    { return KindGPGGA }
func (f PositionFix) Raw() string { return f.Message }
func (PositionFix) isSentence()   {}

// TimeOfDay converts the transmitted hhmmss.sss timestamp into an offset
// from UTC midnight.
func (f PositionFix) TimeOfDay() time.Duration {
	h := math.Floor(f.Timestamp / 10000)
	m := math.Floor(math.Mod(f.Timestamp, 10000) / 100)
	s := math.Mod(f.Timestamp, 100)
	secs := h*3600 + m*60 + s
	return time.Duration(math.Round(secs * float64(time.Second)))
}

// HasDGPS reports whether the fix carried differential correction data.
func (f PositionFix) HasDGPS() bool {
	return f.DGPSAge != NoDGPSAge || f.DGPSStation != NoDGPSStation
}
