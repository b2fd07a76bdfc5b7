package main

// a simple command line tool to convert a csv fix log to kml
//  keeping only waypoints (turns and one every interval)

import (
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samiam2013/gnssfix/common/fixlog"
	"github.com/samiam2013/gnssfix/common/gps"
)

func main() {
	var filepath, out string
	var interval time.Duration
	flag.StringVar(&filepath, "file", "gps.log", "Path to the file to be converted from CSV to KML")
	flag.StringVar(&out, "out", "", "Path of the kml file, stdout when empty")
	flag.DurationVar(&interval, "interval", 10*time.Second, "Longest gap between two waypoints")
	flag.Parse()

	f, err := os.Open(filepath)
	if err != nil {
		logrus.WithError(err).Fatal("Couldn't open file")
	}
	defer f.Close()

	track, err := fixlog.ReadRecords(f)
	if err != nil {
		logrus.WithError(err).Fatal("Couldn't read in data from gps log file")
	}
	waypoints := gps.CaptureWaypoints(track, interval)
	logrus.WithFields(logrus.Fields{"points": len(track), "waypoints": len(waypoints)}).Info("Captured waypoints")

	var w io.Writer = os.Stdout
	if out != "" {
		of, err := os.Create(out)
		if err != nil {
			logrus.WithError(err).Fatal("Couldn't create kml file")
		}
		defer of.Close()
		w = of
	}
	if err := writeKML(w, filepath, waypoints); err != nil {
		logrus.WithError(err).Fatal("Couldn't write kml")
	}
}

type kml struct {
	XMLName  xml.Name    `xml:"kml"`
	NS       string      `xml:"xmlns,attr"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name       string         `xml:"name"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name       string         `xml:"name"`
	TimeStamp  *kmlTimeStamp  `xml:"TimeStamp,omitempty"`
	Point      *kmlPoint      `xml:"Point,omitempty"`
	LineString *kmlLineString `xml:"LineString,omitempty"`
}

type kmlTimeStamp struct {
	When string `xml:"when"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlLineString struct {
	Coordinates string `xml:"coordinates"`
}

func coordinates(r gps.GPSRecord) string {
	return fmt.Sprintf("%f,%f,%f", r.Long, r.Lat, r.Alt)
}

func writeKML(w io.Writer, name string, waypoints []gps.GPSRecord) error {
	doc := kml{NS: "http://www.opengis.net/kml/2.2", Document: kmlDocument{Name: name}}
	path := ""
	for i, wp := range waypoints {
		when := time.UnixMicro(int64(wp.UnixMicro)).UTC().Format(time.RFC3339)
		doc.Document.Placemarks = append(doc.Document.Placemarks, kmlPlacemark{
			Name:      fmt.Sprintf("WP%d", i+1),
			TimeStamp: &kmlTimeStamp{When: when},
			Point:     &kmlPoint{Coordinates: coordinates(wp)},
		})
		if i > 0 {
			path += " "
		}
		path += coordinates(wp)
	}
	if len(waypoints) > 1 {
		doc.Document.Placemarks = append(doc.Document.Placemarks, kmlPlacemark{
			Name:       "Track",
			LineString: &kmlLineString{Coordinates: path},
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
