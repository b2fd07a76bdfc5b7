package nmea

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	gonmea "github.com/adrianmo/go-nmea"
	"github.com/pkg/errors"
)

// ErrRejected matches every error returned by Decode.
var ErrRejected = errors.New("nmea: sentence rejected")

// Reason says at which validation stage a line was rejected.
type Reason int

const (
	ReasonMalformed Reason = iota + 1
	ReasonChecksum
	ReasonUnsupported
	ReasonGrammar
	ReasonValue
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonChecksum:
		return "checksum mismatch"
	case ReasonUnsupported:
		return "unsupported sentence"
	case ReasonGrammar:
		return "grammar violation"
	case ReasonValue:
		return "bad value"
	default:
		return "unknown"
	}
}

// RejectionError is returned by Decode for any line that does not produce a
// Sentence.
type RejectionError struct {
	Reason Reason
	Line   string
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("nmea: %s: %q: %v", e.Reason, e.Line, e.Err)
	}
	return fmt.Sprintf("nmea: %s: %q", e.Reason, e.Line)
}

func (e *RejectionError) Unwrap() error { return e.Err }

func (e *RejectionError) Is(target error) bool { return target == ErrRejected }

// ReasonOf extracts the rejection reason from an error returned by Decode.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return 0, false
}

func reject(reason Reason, line string, err error) error {
	return &RejectionError{Reason: reason, Line: line, Err: err}
}

// envelope is the shape every NMEA 0183 sentence shares.
var envelope = regexp.MustCompile(`^\$[A-Z0-9]+[0-9a-zA-Z,.\-]*\*[0-9a-fA-F]{2}$`)

// ggaGrammar validates every field of a GPGGA sentence. Latitude is DDMM.m+
// within [0, 90], longitude DDDMM.m+ within [0, 180]. The DGPS age and
// station slots may be empty or missing, with or without a trailing comma.
var ggaGrammar = regexp.MustCompile(`^\$GPGGA,` +
	`[0-9]{6}(?:\.[0-9]+)?,` +
	`(?:[0-8][0-9][0-5][0-9]\.[0-9]+|9000\.0+),` +
	`[NS],` +
	`(?:(?:0[0-9]{2}|1[0-7][0-9])[0-5][0-9]\.[0-9]+|18000\.0+),` +
	`[EW],` +
	`[0-2],` +
	`[0-9]+,` +
	`[0-9]+\.[0-9]+,` +
	`-?[0-9]+\.[0-9]+,` +
	`M,` +
	`-?[0-9]+\.[0-9]+,` +
	`M` +
	`(?:,(?:[0-9]+\.[0-9]+)?(?:,(?:[0-9]+)?)?)?,?` +
	`\*[0-9a-fA-F]{2}$`)

type grammar struct {
	re     *regexp.Regexp
	decode func(line string, fields []string) (Sentence, error)
}

var grammars = map[string]grammar{
	"GPGGA": {re: ggaGrammar, decode: decodeGGA},
}

// Decode validates a raw line and decodes it into a Sentence. Validation is
// strictly ordered: envelope, checksum, identifier, sentence grammar, and only
// then value parsing. Any failure yields a *RejectionError.
func Decode(line string) (Sentence, error) {
	if !envelope.MatchString(line) {
		return nil, reject(ReasonMalformed, line, nil)
	}
	star := strings.LastIndexByte(line, '*')
	body := line[1:star]
	if sum := gonmea.Checksum(body); !strings.EqualFold(sum, line[star+1:]) {
		return nil, reject(ReasonChecksum, line, errors.Errorf("computed %s, transmitted %s", sum, line[star+1:]))
	}

	fields := strings.Split(body, ",")
	g, ok := grammars[fields[0]]
	if !ok {
		return nil, reject(ReasonUnsupported, line, errors.Errorf("identifier %s", fields[0]))
	}
	if !g.re.MatchString(line) {
		return nil, reject(ReasonGrammar, line, nil)
	}
	s, err := g.decode(line, fields)
	if err != nil {
		return nil, reject(ReasonValue, line, err)
	}
	return s, nil
}

// Classify returns the kind a line decodes to, or KindInvalid.
func Classify(line string) Kind {
	s, err := Decode(line)
	if err != nil {
		return KindInvalid
	}
	return s.Kind()
}

// GGA field positions, counting the identifier as field 0.
const (
	ggaTime = iota + 1
	ggaLat
	ggaLatBearing
	ggaLon
	ggaLonBearing
	ggaFix
	ggaSatellites
	ggaHDOP
	ggaAltitude
	ggaAltitudeUnit
	ggaGeoid
	ggaGeoidUnit
	ggaDGPSAge
	ggaDGPSStation
)

func decodeGGA(line string, f []string) (Sentence, error) {
	fix := PositionFix{
		Message:     line,
		DGPSAge:     NoDGPSAge,
		DGPSStation: NoDGPSStation,
	}
	var err error
	if fix.Timestamp, err = strconv.ParseFloat(f[ggaTime], 64); err != nil {
		return nil, errors.Wrap(err, "time")
	}
	if fix.Latitude, err = ToDegrees(f[ggaLat]); err != nil {
		return nil, errors.Wrap(err, "latitude")
	}
	if f[ggaLatBearing] != "N" {
		fix.Latitude = -fix.Latitude
	}
	if fix.Longitude, err = ToDegrees(f[ggaLon]); err != nil {
		return nil, errors.Wrap(err, "longitude")
	}
	if f[ggaLonBearing] != "E" {
		fix.Longitude = -fix.Longitude
	}
	q, err := strconv.Atoi(f[ggaFix])
	if err != nil {
		return nil, errors.Wrap(err, "fix quality")
	}
	fix.Fix = FixQuality(q)
	if fix.Satellites, err = strconv.Atoi(f[ggaSatellites]); err != nil {
		return nil, errors.Wrap(err, "satellites")
	}
	if fix.HDOP, err = strconv.ParseFloat(f[ggaHDOP], 64); err != nil {
		return nil, errors.Wrap(err, "hdop")
	}
	if fix.Altitude, err = strconv.ParseFloat(f[ggaAltitude], 64); err != nil {
		return nil, errors.Wrap(err, "altitude")
	}
	if fix.GeoidHeight, err = strconv.ParseFloat(f[ggaGeoid], 64); err != nil {
		return nil, errors.Wrap(err, "geoid height")
	}
	if len(f) > ggaDGPSAge && f[ggaDGPSAge] != "" {
		if fix.DGPSAge, err = strconv.ParseFloat(f[ggaDGPSAge], 64); err != nil {
			return nil, errors.Wrap(err, "dgps age")
		}
	}
	if len(f) > ggaDGPSStation && f[ggaDGPSStation] != "" {
		if fix.DGPSStation, err = strconv.Atoi(f[ggaDGPSStation]); err != nil {
			return nil, errors.Wrap(err, "dgps station")
		}
	}
	return fix, nil
}

// ToDegrees converts a D{1,3}MM.m+ wire angle to decimal degrees. The last
// two integer digits are whole minutes, everything before them whole degrees.
func ToDegrees(angle string) (float64, error) {
	dot := strings.IndexByte(angle, '.')
	if dot == -1 {
		dot = len(angle)
	}
	if dot < 3 {
		return 0, errors.Errorf("angle %q too short", angle)
	}
	deg, err := strconv.Atoi(angle[:dot-2])
	if err != nil {
		return 0, errors.Wrapf(err, "degrees of %q", angle)
	}
	mins, err := strconv.ParseFloat(angle[dot-2:], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "minutes of %q", angle)
	}
	return float64(deg) + mins/60, nil
}
