// Package sensor reads the temperature shown by the clock.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

var (
	temperatureGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "temperature_celsius",
		Help: "last temperature read from the sensor",
	})
	humidityGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relative_humidity_percent",
		Help: "last relative humidity read from the sensor",
	})
	pressureGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pressure_pascals",
		Help: "last air pressure read from the sensor",
	})
	sensorErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_read_errors",
		Help: "count of failed sensor reads",
	})
)

// ErrNoReading is returned by a Monitor that has not read the sensor recently.
var ErrNoReading = errors.New("no recent sensor reading")

// Thermometer measures the temperature.
type Thermometer interface {
	Temperature() (physic.Temperature, error)
}

// Fixed is a thermometer that always reads the same.
type Fixed physic.Temperature

func (f Fixed) Temperature() (physic.Temperature, error) {
	return physic.Temperature(f), nil
}

// Celsius returns the thermometer reading for c degrees Celsius.
func Celsius(c float64) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(c*float64(physic.Celsius))
}

// Degrees converts t to whole degrees for display.
func Degrees(t physic.Temperature, fahrenheit bool) int {
	c := float64(t-physic.ZeroCelsius) / float64(physic.Celsius)
	if fahrenheit {
		return int(math.Round(c*9/5 + 32))
	}
	return int(math.Round(c))
}

// Sensor reads the environment.  *bmxx80.Dev is one.
type Sensor interface {
	Sense(e *physic.Env) error
}

// NewBME280 finds a BME280 at addr on bus.
func NewBME280(bus i2c.Bus, addr uint16) (*bmxx80.Dev, error) {
	opts := bmxx80.Opts{Temperature: bmxx80.O16x, Pressure: bmxx80.O16x, Humidity: bmxx80.O16x}
	dev, err := bmxx80.NewI2C(bus, addr, &opts)
	if err != nil {
		return nil, fmt.Errorf("init bme280: %w", err)
	}
	return dev, nil
}

// Monitor polls a sensor in the background and answers with the last reading.
type Monitor struct {
	Sensor   Sensor
	Interval time.Duration
	// MaxAge is how old a reading can be before it's considered stale.
	MaxAge time.Duration

	mu   sync.Mutex
	last physic.Env
	at   time.Time
}

// Temperature implements Thermometer.
func (m *Monitor) Temperature() (physic.Temperature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.at.IsZero() || time.Since(m.at) > m.MaxAge {
		return 0, ErrNoReading
	}
	return m.last.Temperature, nil
}

// Sense reads the sensor once and records the result.
func (m *Monitor) Sense() error {
	var e physic.Env
	if err := m.Sensor.Sense(&e); err != nil {
		sensorErrorsCounter.Inc()
		return fmt.Errorf("read sensor: %w", err)
	}
	m.mu.Lock()
	m.last, m.at = e, time.Now()
	m.mu.Unlock()
	temperatureGauge.Set(float64(e.Temperature-physic.ZeroCelsius) / float64(physic.Celsius))
	humidityGauge.Set(float64(e.Humidity) / float64(physic.PercentRH))
	pressureGauge.Set(float64(e.Pressure) / float64(physic.Pascal))
	return nil
}

// Run reads the sensor every Interval until the context is done.
func (m *Monitor) Run(ctx context.Context) error {
	l := trace.NewEventLog("sensor", "environment")
	defer l.Finish()
	for {
		if err := m.Sense(); err != nil {
			l.Errorf("error: %v", err)
		} else {
			m.mu.Lock()
			e := m.last
			m.mu.Unlock()
			l.Printf("Temp: %v, Pressure: %v, Humidity: %v", e.Temperature, e.Pressure, e.Humidity)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("sensor monitor: %w", ctx.Err())
		case <-time.After(m.Interval):
		}
	}
}
