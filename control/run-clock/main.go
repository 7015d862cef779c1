package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/jrockway/nixie-clock/control/button"
	"github.com/jrockway/nixie-clock/control/clock"
	"github.com/jrockway/nixie-clock/control/hw"
	"github.com/jrockway/nixie-clock/control/options"
	"github.com/jrockway/nixie-clock/control/screen"
	"github.com/jrockway/nixie-clock/control/sensor"
	"github.com/jrockway/nixie-clock/control/shiftreg"
	"github.com/jrockway/nixie-clock/control/store"
	"github.com/jrockway/nixie-clock/control/timesync"
	"github.com/jrockway/nixie-clock/control/tubes"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/net/trace"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	configFile = flag.String("config", "", "yaml file describing how the clock is wired up")
	bind       = flag.String("bind", "", "address to bind for debug/metrics server; overrides the config file")
	debug      = flag.Bool("debug", false, "log at debug level")
)

// powerDot is left lit after shutdown, to show that the tubes still have high voltage.
const powerDot = tubes.DotsLeft & tubes.DotsTop

// openBus connects to the shift registers.
func openBus(cfg Config) (shiftreg.Bus, io.Closer, error) {
	pin := func(name string) (shiftreg.Line, error) {
		if name == "" {
			return nil, nil
		}
		return hw.Pin(name)
	}
	switch cfg.Bus {
	case "nop":
		return shiftreg.Nop{}, nil, nil
	case "gpio":
		var lines [4]shiftreg.Line
		for i, name := range []string{cfg.Pins.Data, cfg.Pins.Clock, cfg.Pins.Latch, cfg.Pins.Enable} {
			l, err := pin(name)
			if err != nil {
				return nil, nil, err
			}
			lines[i] = l
		}
		bus, err := shiftreg.NewGPIO(lines[0], lines[1], lines[2], lines[3])
		return bus, nil, err
	case "spidev":
		latch, err := pin(cfg.Pins.Latch)
		if err != nil {
			return nil, nil, err
		}
		bus, err := shiftreg.NewSPIDev(cfg.SPI, latch)
		if err != nil {
			return nil, nil, err
		}
		return bus, closerFunc(func() error { bus.Close(); return nil }), nil
	case "spi":
		latch, err := pin(cfg.Pins.Latch)
		if err != nil {
			return nil, nil, err
		}
		port, err := spireg.Open(cfg.SPI)
		if err != nil {
			return nil, nil, fmt.Errorf("open spi port %q: %w", cfg.SPI, err)
		}
		bus, err := shiftreg.NewPort(port, latch)
		if err != nil {
			port.Close()
			return nil, nil, err
		}
		return bus, port, nil
	}
	return nil, nil, fmt.Errorf("unknown bus %q", cfg.Bus)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openStore opens wherever the settings are kept.
func openStore(cfg Store) (options.Store, io.Closer, error) {
	switch cfg.Kind {
	case "memory":
		return store.NewMemory(), nil, nil
	case "file":
		f, err := store.OpenFile(cfg.Path)
		return f, f, err
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Path)
		return s, s, err
	}
	return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
}

// advertise announces the debug server over mDNS.
func advertise(name, addr string) (*zeroconf.Server, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse bind address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return nil, fmt.Errorf("parse port %q: %w", p, err)
	}
	server, err := zeroconf.Register(name, "_http._tcp", "local.", port, []string{"path=/status"}, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	return server, nil
}

func main() {
	flag.Parse()
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	cfg, err := LoadConfig(*configFile)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if *bind != "" {
		cfg.HTTP.Bind = *bind
	}
	if _, err := host.Init(); err != nil {
		logrus.Fatalf("init periph.io: %v", err)
	}
	loc := time.Local
	if cfg.Location != "" {
		if loc, err = time.LoadLocation(cfg.Location); err != nil {
			logrus.Fatalf("load location: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	var closers []io.Closer

	bus, c, err := openBus(cfg)
	if err != nil {
		logrus.Fatalf("open %s bus: %v", cfg.Bus, err)
	}
	if c != nil {
		closers = append(closers, c)
	}
	leds := screen.New(bus, nil)

	st, c, err := openStore(cfg.Store)
	if err != nil {
		logrus.Fatalf("open %s store: %v", cfg.Store.Kind, err)
	}
	if c != nil {
		closers = append(closers, c)
	}
	settings, err := options.Load(st, options.DefaultTable, nil)
	if err != nil {
		logrus.Fatalf("load settings: %v", err)
	}

	clockCfg := clock.Config{
		Screen:   leds,
		Settings: settings,
		Location: loc,
		Button:   button.NewSignal(),
	}

	if cfg.Pins.Buzzer != "" {
		p, err := hw.Pin(cfg.Pins.Buzzer)
		if err != nil {
			logrus.Fatalf("buzzer: %v", err)
		}
		clockCfg.Buzzer = hw.NewBuzzer(p)
	}

	if cfg.Pins.EncoderCLK != "" && cfg.Pins.EncoderDT != "" && cfg.Pins.Button != "" {
		clk, err := hw.Pin(cfg.Pins.EncoderCLK)
		if err != nil {
			logrus.Fatalf("encoder: %v", err)
		}
		dt, err := hw.Pin(cfg.Pins.EncoderDT)
		if err != nil {
			logrus.Fatalf("encoder: %v", err)
		}
		enc, err := hw.NewEncoder(clk, dt)
		if err != nil {
			logrus.Fatalf("encoder: %v", err)
		}
		btn, err := hw.Pin(cfg.Pins.Button)
		if err != nil {
			logrus.Fatalf("button: %v", err)
		}
		clockCfg.Pins = enc
		go func() {
			if err := button.Watch(ctx, btn, clockCfg.Button, button.MinSpacing); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Error("button watcher exited")
			}
		}()
	} else {
		logrus.Info("no encoder configured; settings can only be changed by editing the store")
	}

	if !cfg.I2C.Disabled {
		i2cBus, err := i2creg.Open(cfg.I2C.Bus)
		if err != nil {
			logrus.WithError(err).Warn("open i2c bus; temperature display disabled")
		} else if dev, err := sensor.NewBME280(i2cBus, cfg.I2C.Address); err != nil {
			logrus.WithError(err).Warn("temperature display disabled")
			i2cBus.Close()
		} else {
			closers = append(closers, i2cBus)
			monitor := &sensor.Monitor{Sensor: dev, Interval: 30 * time.Second, MaxAge: 2 * time.Minute}
			clockCfg.Thermometer = monitor
			go monitor.Run(ctx)
		}
	}

	if cfg.Watchdog.Device != "" {
		wd, err := hw.OpenWatchdog(cfg.Watchdog.Device, cfg.Watchdog.Interval)
		if err != nil {
			logrus.Fatalf("open watchdog: %v", err)
		}
		closers = append(closers, wd)
		clockCfg.Watchdog = wd
	}

	status := new(timesync.Status)
	if cfg.Chrony != "" {
		go (&timesync.Chrony{Address: cfg.Chrony, Interval: 30 * time.Second, Status: status, Log: logrus.StandardLogger()}).Run(ctx)
	}
	if cfg.Gpsd != "" {
		go (&timesync.Gpsd{Address: cfg.Gpsd, Status: status, Log: logrus.StandardLogger()}).Run(ctx)
	}

	cl, err := clock.New(clockCfg)
	if err != nil {
		logrus.Fatalf("init clock: %v", err)
	}

	http.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/status", http.StatusFound)
	})
	http.Handle("/display.png", leds)
	http.Handle("/status", status)
	http.Handle("/metrics", promhttp.Handler())

	httpDoneCh := make(chan error)
	httpServer := http.Server{Addr: cfg.HTTP.Bind}
	go func() {
		logrus.Infof("http server listening on %s", httpServer.Addr)
		err := httpServer.ListenAndServe()
		select {
		case httpDoneCh <- err:
		case <-ctx.Done():
		}
		close(httpDoneCh)
	}()

	var mdns *zeroconf.Server
	if cfg.HTTP.Advertise != "" {
		if mdns, err = advertise(cfg.HTTP.Advertise, cfg.HTTP.Bind); err != nil {
			logrus.WithError(err).Warn("mdns advertisement disabled")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	loopDoneCh := make(chan error)
	go func() {
		err := cl.Run(ctx)
		select {
		case loopDoneCh <- err:
		case <-ctx.Done():
		}
		close(loopDoneCh)
	}()

	httpAlive := true
	select {
	case err := <-httpDoneCh:
		logrus.WithError(err).Error("http server died")
		httpAlive = false
	case err := <-loopDoneCh:
		logrus.WithError(err).Error("clock loop died")
	case <-sigCh:
		logrus.Info("interrupt")
	}
	signal.Stop(sigCh)
	cancel()
	if mdns != nil {
		mdns.Shutdown()
	}

	tctx, c2 := context.WithTimeout(context.Background(), 2*time.Second)
	if err := leds.Blank(tctx, powerDot); err != nil {
		logrus.WithError(err).Warn("blank display")
	}
	if httpAlive {
		httpServer.Shutdown(tctx)
	}
	c2()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logrus.WithError(err).Warn("close")
		}
	}
	os.Exit(1)
}
