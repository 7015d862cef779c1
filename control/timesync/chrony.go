// Package timesync watches the daemons that keep the system clock right.  The clock only reads
// the system time; these monitors report whether that time can be trusted.
package timesync

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/facebookincubator/ntp/protocol/chrony"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/trace"
)

// Leap status values from chrony's ntp.h.
const (
	leapNormal         = 0
	leapUnsynchronized = 3
)

var (
	synchronizedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clock_synchronized",
		Help: "1 if chronyd reports that the system clock is synchronized",
	})
	offsetGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clock_offset_seconds",
		Help: "chronyd's estimate of the system clock's offset from true time",
	})
	stratumGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clock_stratum",
		Help: "NTP stratum of the system clock",
	})
	sourcesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chrony_sources",
		Help: "number of time sources chronyd knows about",
	})
)

// communicator is the part of chrony.Client that the monitor uses.
type communicator interface {
	Communicate(packet chrony.RequestPacket) (chrony.ResponsePacket, error)
}

// Chrony polls chronyd's tracking report.
type Chrony struct {
	// Address is chronyd's command socket, usually localhost:323.
	Address string
	// Interval is the time between polls.
	Interval time.Duration
	Status   *Status
	Log      logrus.FieldLogger
}

// Run polls chronyd until the context is done.  Connection failures are logged and retried
// after 10 seconds.
func (c *Chrony) Run(ctx context.Context) error {
	l := trace.NewEventLog("service", "chrony")
	defer l.Finish()
	for {
		if err := c.monitor(ctx, l); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("chrony monitor: %w", ctx.Err())
			}
			c.Log.WithError(err).Warn("chrony monitor exited unexpectedly")
			l.Errorf("monitor exited unexpectedly: %v", err)
			synchronizedGauge.Set(0)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("chrony monitor: %w", ctx.Err())
		case <-time.After(10 * time.Second):
		}
	}
}

func (c *Chrony) monitor(ctx context.Context, l trace.EventLog) error {
	l.Printf("dial %s", c.Address)
	conn, err := net.DialTimeout("udp", c.Address, time.Second)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	client := &chrony.Client{Sequence: 1, Connection: conn}
	c.Log.WithField("address", c.Address).Info("connected to chronyd")
	for {
		if err := conn.SetReadDeadline(time.Now().Add(time.Minute)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		if err := c.poll(client, l); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.Interval):
		}
	}
}

// poll asks chronyd for its tracking and sources reports once.
func (c *Chrony) poll(client communicator, l trace.EventLog) error {
	res, err := client.Communicate(chrony.NewTrackingPacket())
	if err != nil {
		return fmt.Errorf("get tracking info: %w", err)
	}
	tracking, ok := res.(*chrony.ReplyTracking)
	if !ok {
		l.Errorf("tracking reply was of unexpected type: %#v", res)
		return nil
	}
	l.Printf("tracking: %#v", tracking)
	synced := tracking.LeapStatus != leapUnsynchronized
	if synced {
		synchronizedGauge.Set(1)
	} else {
		synchronizedGauge.Set(0)
	}
	offsetGauge.Set(tracking.CurrentCorrection)
	stratumGauge.Set(float64(tracking.Stratum))
	c.Status.update(func(s *Status) {
		s.Tracking = tracking.Tracking
		s.TrackingUpdated = time.Now()
	})

	res, err = client.Communicate(chrony.NewSourcesPacket())
	if err != nil {
		return fmt.Errorf("get sources: %w", err)
	}
	if s, ok := res.(*chrony.ReplySources); ok {
		sourcesGauge.Set(float64(s.NSources))
		c.Status.update(func(st *Status) { st.Sources = s.NSources })
	} else {
		l.Errorf("sources reply was of unexpected type: %#v", res)
	}
	return nil
}

// refID turns a chrony reference ID into a name.  Reference clocks have ASCII names like "GPS" or
// "PPS" packed into the address; anything else is printed as an address.
func refID(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		last := len(v4)
		for i, b := range v4 {
			if b == 0 && i > 0 {
				last = i
				break
			}
			if b < '0' || b > 'z' {
				last = 0
				break
			}
		}
		if last > 0 {
			return string(v4[0:last])
		}
	}
	return ip.String()
}

// intRefID is refID for the integer form used in tracking reports.
func intRefID(id uint32) string {
	return refID(net.IPv4(byte(id>>24), byte(id>>16), byte(id>>8), byte(id)))
}

func formatLeap(x uint16) string {
	switch x {
	case leapNormal:
		return "Normal"
	case 1:
		return "Insert second"
	case 2:
		return "Delete second"
	case leapUnsynchronized:
		return "Unsynchronized"
	default:
		return fmt.Sprintf("Invalid (%v)", x)
	}
}
