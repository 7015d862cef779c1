package timesync

import (
	"context"
	"fmt"
	"time"

	"github.com/jrockway/go-gpsd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/trace"
)

var (
	fixModeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gps_fix_mode",
		Help: "gpsd fix mode: 0 unknown, 1 no fix, 2 2D, 3 3D",
	})
	satellitesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gps_satellites",
		Help: "satellites in view, by whether they are used in the fix",
	}, []string{"used"})
)

// Gpsd watches gpsd's position and sky reports.
type Gpsd struct {
	// Address is gpsd's socket, usually localhost:2947.
	Address string
	Status  *Status
	Log     logrus.FieldLogger
}

// Run watches gpsd until the context is done, reconnecting 10 seconds after any failure.
func (g *Gpsd) Run(ctx context.Context) error {
	l := trace.NewEventLog("service", "gpsd")
	defer l.Finish()
	for {
		if err := g.monitor(ctx, l); err != nil && ctx.Err() == nil {
			g.Log.WithError(err).Warn("gpsd monitor exited")
			l.Errorf("%v", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("gpsd monitor: %w", ctx.Err())
		case <-time.After(10 * time.Second):
		}
	}
}

func (g *Gpsd) monitor(ctx context.Context, l trace.EventLog) error {
	l.Printf("dial %s", g.Address)
	gps, err := gpsd.Dial(g.Address)
	if err != nil {
		return fmt.Errorf("dial gpsd: %w", err)
	}
	alive := make(chan struct{}, 1)
	ping := func() {
		select {
		case alive <- struct{}{}:
		default:
		}
	}
	gps.AddFilter("TPV", func(r interface{}) {
		ping()
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok {
			return
		}
		g.tpv(tpv)
	})
	gps.AddFilter("SKY", func(r interface{}) {
		ping()
		sky, ok := r.(*gpsd.SKYReport)
		if !ok {
			return
		}
		l.Printf("sky report: %d satellites", len(sky.Satellites))
		g.sky(sky)
	})
	g.Log.WithField("address", g.Address).Info("starting gpsd watch loop")
	done := gps.Watch()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return fmt.Errorf("gpsd watch stopped")
		case <-time.After(time.Minute):
			return fmt.Errorf("gpsd hasn't sent data for 1 minute")
		case <-alive:
		}
	}
}

func (g *Gpsd) tpv(tpv *gpsd.TPVReport) {
	fixModeGauge.Set(float64(tpv.Mode))
	g.Status.update(func(s *Status) {
		s.FixMode = int(tpv.Mode)
		s.GPSTime = tpv.Time
		s.GPSUpdated = time.Now()
	})
}

func (g *Gpsd) sky(sky *gpsd.SKYReport) {
	var used, unused int
	for _, sat := range sky.Satellites {
		if sat.Used {
			used++
		} else {
			unused++
		}
	}
	satellitesGauge.WithLabelValues("true").Set(float64(used))
	satellitesGauge.WithLabelValues("false").Set(float64(unused))
	g.Status.update(func(s *Status) {
		s.SatellitesUsed = used
		s.SatellitesVisible = used + unused
	})
}
