package timesync

import (
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/facebookincubator/ntp/protocol/chrony"
	"github.com/sirupsen/logrus"
)

var (
	//go:embed status.html.tmpl
	statusHTML string
	funcMap    = template.FuncMap{
		"refid":      intRefID,
		"leap":       formatLeap,
		"correction": formatCorrection,
		"freq":       formatFreq,
		"fix":        formatFix,
		"unixtime":   formatUnixTime,
	}
	statusTemplate = template.Must(template.New("status").Funcs(funcMap).Parse(statusHTML))
)

// Status is the latest news from chronyd and gpsd.
type Status struct {
	mu sync.RWMutex

	Tracking        chrony.Tracking
	TrackingUpdated time.Time
	Sources         int

	FixMode           int
	GPSTime           time.Time
	GPSUpdated        time.Time
	SatellitesUsed    int
	SatellitesVisible int
}

func (s *Status) update(f func(s *Status)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

// Synchronized reports whether chronyd said the clock was synchronized in the last maxAge.
func (s *Status) Synchronized(maxAge time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.TrackingUpdated.IsZero() || time.Since(s.TrackingUpdated) > maxAge {
		return false
	}
	return s.Tracking.LeapStatus != leapUnsynchronized
}

// statusView is a copy of Status without the lock, for the template.
type statusView struct {
	Now             time.Time
	Tracking        chrony.Tracking
	TrackingUpdated time.Time
	Sources         int

	FixMode           int
	GPSTime           time.Time
	SatellitesUsed    int
	SatellitesVisible int
}

// ServeHTTP renders the status page.
func (s *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	v := statusView{
		Now:               time.Now(),
		Tracking:          s.Tracking,
		TrackingUpdated:   s.TrackingUpdated,
		Sources:           s.Sources,
		FixMode:           s.FixMode,
		GPSTime:           s.GPSTime,
		SatellitesUsed:    s.SatellitesUsed,
		SatellitesVisible: s.SatellitesVisible,
	}
	s.mu.RUnlock()
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := statusTemplate.Execute(w, v); err != nil {
		logrus.WithError(err).Info("execute status template")
	}
}

func formatUnixTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.In(time.UTC).Format(time.UnixDate)
}

func formatCorrection(x float64) string {
	var fast string
	if x < 0 {
		x = -x
		fast = "fast"
	} else {
		fast = "slow"
	}
	return fmt.Sprintf("%s %s of NTP time", time.Duration(x*1e9).String(), fast)
}

func formatFreq(x float64) string {
	var fast string
	if x < 0 {
		x = -x
		fast = "slow"
	} else {
		fast = "fast"
	}
	return fmt.Sprintf("%.3f ppm %s", x, fast)
}

func formatFix(mode int) string {
	switch mode {
	case 1:
		return "No fix"
	case 2:
		return "2D"
	case 3:
		return "3D"
	default:
		return "Unknown"
	}
}
