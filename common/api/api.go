// Package api exposes a receiver over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/samiam2013/gnssfix/common/gps"
	"github.com/samiam2013/gnssfix/common/nmea"
)

// Source is the receiver surface served over HTTP.
type Source interface {
	IsOpen() bool
	TakeNext() (nmea.PositionFix, error)
	WaitForData(mask nmea.KindMask, timeout time.Duration) (nmea.KindMask, error)
	Stats() gps.Stats
}

// MaxWait caps the timeout a client may ask for.
const MaxWait = time.Minute

type Route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

type Handlers struct {
	Source      Source
	DefaultWait time.Duration
}

type statusResponse struct {
	Open  bool      `json:"open"`
	Stats gps.Stats `json:"stats"`
}

type waitResponse struct {
	Ready []string `json:"ready"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewRouter(src Source, defaultWait time.Duration) *mux.Router {
	h := Handlers{Source: src, DefaultWait: defaultWait}

	routes := []Route{
		{"Status", http.MethodGet, "/status", h.Status},
		{"TakeNext", http.MethodPost, "/fixes/next", h.TakeNext},
		{"Wait", http.MethodGet, "/fixes/wait", h.Wait},
	}

	router := mux.NewRouter().StrictSlash(true)
	for _, route := range routes {
		router.
			Path(route.Pattern).
			Methods(route.Method).
			Name(route.Name).
			Handler(logged(route.Name, route.HandlerFunc))
	}
	return router
}

func (h Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Open: h.Source.IsOpen(), Stats: h.Source.Stats()})
}

// TakeNext answers 204 when no fix is buffered.
func (h Handlers) TakeNext(w http.ResponseWriter, _ *http.Request) {
	fix, err := h.Source.TakeNext()
	if errors.Is(err, gps.ErrNoData) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

// Wait blocks like WaitForData. Query parameters: kinds, a comma separated
// list of kind names (default all), and timeout, a Go duration.
func (h Handlers) Wait(w http.ResponseWriter, r *http.Request) {
	mask, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	timeout := h.DefaultWait
	if v := r.URL.Query().Get("timeout"); v != "" {
		if timeout, err = time.ParseDuration(v); err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "timeout"))
			return
		}
	}
	if timeout <= 0 || timeout > MaxWait {
		timeout = MaxWait
	}

	ready, err := h.Source.WaitForData(mask, timeout)
	switch {
	case err == nil:
		resp := waitResponse{Ready: []string{}}
		for _, k := range ready.Kinds() {
			resp.Ready = append(resp.Ready, k.String())
		}
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, gps.ErrTimeout):
		writeError(w, http.StatusRequestTimeout, err)
	case errors.Is(err, gps.ErrIllegalOperation):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

func parseKinds(s string) (nmea.KindMask, error) {
	if s == "" {
		return nmea.MaskAll, nil
	}
	var mask nmea.KindMask
	for _, name := range strings.Split(s, ",") {
		k, ok := kindByName(strings.TrimSpace(name))
		if !ok {
			return nmea.MaskNone, errors.Errorf("unknown kind %q", name)
		}
		mask.Set(k)
	}
	return mask, nil
}

func kindByName(name string) (nmea.Kind, bool) {
	for _, k := range nmea.MaskAll.Kinds() {
		if strings.EqualFold(k.String(), name) {
			return k, true
		}
	}
	return nmea.KindInvalid, false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Could not write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func logged(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"route":    name,
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("Request served")
	})
}
