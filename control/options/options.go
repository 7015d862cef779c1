// Package options describes the user's settings and keeps them in a byte-addressed store.
package options

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jrockway/nixie-clock/control/store"
	"github.com/sirupsen/logrus"
)

// ID is an option's number.  It is also the option's address in the store, and what the menu
// shows in the left-hand tubes.
type ID uint8

// The options, in menu order.
const (
	TwelveHour ID = iota + 1
	DateInterval
	TemperatureInterval
	CascadeInterval
	Fade
	Buzzer
	Fahrenheit
	MaintenanceHour
)

// Sentinel is kept at address 0 of an initialized store.
const Sentinel byte = 0xA5

// SentinelAddress is where Sentinel is kept.
const SentinelAddress uint8 = 0

// ErrUnknownOption is returned for an ID that is not in the table.
var ErrUnknownOption = errors.New("unknown option")

// Option is one setting.  If Activity is set, the named activity runs only while the option is
// nonzero.
type Option struct {
	ID                    ID
	Name                  string
	Default, Lower, Upper int
	Activity              string
}

// Validate checks that the default is within bounds and that the value fits in a byte.
func (o Option) Validate() error {
	if o.Lower > o.Default || o.Default > o.Upper {
		return fmt.Errorf("option %d (%s): default %d outside [%d, %d]", o.ID, o.Name, o.Default, o.Lower, o.Upper)
	}
	if o.Lower < 0 || o.Upper > 0xff {
		return fmt.Errorf("option %d (%s): range [%d, %d] does not fit in a byte", o.ID, o.Name, o.Lower, o.Upper)
	}
	if o.ID == ID(SentinelAddress) {
		return fmt.Errorf("option %s: address %d is reserved", o.Name, SentinelAddress)
	}
	return nil
}

// Clamp limits v to the option's range.
func (o Option) Clamp(v int) int {
	if v < o.Lower {
		return o.Lower
	}
	if v > o.Upper {
		return o.Upper
	}
	return v
}

// Table is an ordered list of options.
type Table []Option

// DefaultTable is the clock's settings.
var DefaultTable = Table{
	{ID: TwelveHour, Name: "twelve-hour", Default: 1, Lower: 0, Upper: 1},
	{ID: DateInterval, Name: "date-interval", Default: 1, Lower: 0, Upper: 60, Activity: "date"},
	{ID: TemperatureInterval, Name: "temperature-interval", Default: 5, Lower: 0, Upper: 60, Activity: "temperature"},
	{ID: CascadeInterval, Name: "cascade-interval", Default: 10, Lower: 0, Upper: 60, Activity: "cascade"},
	{ID: Fade, Name: "fade", Default: 1, Lower: 0, Upper: 1},
	{ID: Buzzer, Name: "buzzer", Default: 1, Lower: 0, Upper: 1},
	{ID: Fahrenheit, Name: "fahrenheit", Default: 1, Lower: 0, Upper: 1},
	{ID: MaintenanceHour, Name: "maintenance-hour", Default: 3, Lower: 0, Upper: 23},
}

// Validate validates every option and checks that no ID is used twice.
func (t Table) Validate() error {
	seen := map[ID]bool{}
	for _, o := range t {
		if err := o.Validate(); err != nil {
			return err
		}
		if seen[o.ID] {
			return fmt.Errorf("option %d (%s): duplicate id", o.ID, o.Name)
		}
		seen[o.ID] = true
	}
	return nil
}

// Lookup finds an option by ID.
func (t Table) Lookup(id ID) (Option, error) {
	for _, o := range t {
		if o.ID == id {
			return o, nil
		}
	}
	return Option{}, fmt.Errorf("option %d: %w", id, ErrUnknownOption)
}

// Store is byte-addressed persistent storage.  Writes are not durable until Commit.
type Store interface {
	Read(addr uint8) (byte, error)
	Write(addr uint8, v byte) error
	Commit() error
}

// Settings are the current option values, backed by a Store.
type Settings struct {
	table Table
	store Store
	log   logrus.FieldLogger

	mu     sync.Mutex
	values map[ID]int // must hold mu to read or write.
}

// Load reads every option from store.  A store without the sentinel is initialized with the
// defaults; a store whose sentinel can't be read is left alone and the defaults are used.  Values that can't be read or are out of range are replaced by their default.  A
// store that can't be written is logged and the defaults are used; only an invalid table is an
// error.
func Load(store Store, table Table, log logrus.FieldLogger) (*Settings, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("validate option table: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Settings{
		table: table,
		store: store,
		log:   log.WithField("component", "options"),
	}
	if err := s.Reload(); err != nil {
		s.log.WithError(err).Warn("loading options; using defaults")
	}
	return s, nil
}

// Reload rereads every option from the store.
func (s *Settings) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.store.Read(SentinelAddress)
	switch {
	case errors.Is(err, store.ErrNotFound), err == nil && v != Sentinel:
		s.log.WithError(err).WithField("sentinel", v).Info("option store not initialized; writing defaults")
		return s.initialize()
	case err != nil:
		// The store may hold good values that can't be read right now; leave them alone.
		s.defaults()
		return fmt.Errorf("read sentinel: %w", err)
	}
	values := make(map[ID]int, len(s.table))
	for _, o := range s.table {
		v, err := s.store.Read(uint8(o.ID))
		if err != nil {
			s.log.WithError(err).WithField("option", o.Name).Warn("reading option; using default")
			values[o.ID] = o.Default
			continue
		}
		if int(v) < o.Lower || int(v) > o.Upper {
			s.log.WithField("option", o.Name).WithField("value", v).Warn("stored option out of range; using default")
			values[o.ID] = o.Default
			continue
		}
		values[o.ID] = int(v)
	}
	s.values = values
	return nil
}

// initialize writes every default and the sentinel.  The defaults are in effect even if that
// fails.  Must hold mu.
func (s *Settings) initialize() error {
	s.defaults()
	for _, o := range s.table {
		if err := s.store.Write(uint8(o.ID), byte(o.Default)); err != nil {
			return fmt.Errorf("write default for %s: %w", o.Name, err)
		}
	}
	if err := s.store.Write(SentinelAddress, Sentinel); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	if err := s.store.Commit(); err != nil {
		return fmt.Errorf("commit defaults: %w", err)
	}
	return nil
}

// defaults puts every default in effect without writing them.  Must hold mu.
func (s *Settings) defaults() {
	s.values = make(map[ID]int, len(s.table))
	for _, o := range s.table {
		s.values[o.ID] = o.Default
	}
}

// Table returns the options, in order.
func (s *Settings) Table() Table {
	return s.table
}

// Get returns an option's current value.  Unknown options read as zero.
func (s *Settings) Get(id ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[id]
}

// Bool reports whether an option is nonzero.
func (s *Settings) Bool(id ID) bool {
	return s.Get(id) != 0
}

// Set clamps v to the option's range, stores it, and commits.  It returns the stored value.
func (s *Settings) Set(id ID, v int) (int, error) {
	o, err := s.table.Lookup(id)
	if err != nil {
		return 0, err
	}
	v = o.Clamp(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Write(uint8(id), byte(v)); err != nil {
		return s.values[id], fmt.Errorf("write %s: %w", o.Name, err)
	}
	if err := s.store.Commit(); err != nil {
		return s.values[id], fmt.Errorf("commit %s: %w", o.Name, err)
	}
	s.values[id] = v
	return v, nil
}
