package reveal

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the timing of one reveal. Every display uses the same profile so
// animations settle at the same moment.
type Profile struct {
	FastSpin         time.Duration `yaml:"fast_spin"`
	FastSpinInterval time.Duration `yaml:"fast_spin_interval"`
	Ticks            int           `yaml:"ticks"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	// OrganizerDelay offsets the organizer's own animation so remote displays,
	// which start on receipt of start_spin, are not behind it.
	OrganizerDelay time.Duration `yaml:"organizer_delay"`
}

func DefaultProfile() Profile {
	return Profile{
		FastSpin:         3400 * time.Millisecond,
		FastSpinInterval: 80 * time.Millisecond,
		Ticks:            3,
		TickInterval:     800 * time.Millisecond,
		OrganizerDelay:   150 * time.Millisecond,
	}
}

// Total is the time from animation start to Settled, excluding any delay.
func (p Profile) Total() time.Duration {
	return p.FastSpin + time.Duration(p.Ticks)*p.TickInterval
}

func (p Profile) Validate() error {
	switch {
	case p.FastSpin < 0:
		return errors.New("fast_spin must not be negative")
	case p.FastSpin > 0 && p.FastSpinInterval <= 0:
		return errors.New("fast_spin_interval must be positive")
	case p.Ticks < 1:
		return errors.New("ticks must be at least 1")
	case p.TickInterval <= 0:
		return errors.New("tick_interval must be positive")
	case p.OrganizerDelay < 0:
		return errors.New("organizer_delay must not be negative")
	}
	return nil
}

// LoadProfile reads a YAML profile. Keys absent from the file keep their
// default values; an empty path returns the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading reveal profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing reveal profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid reveal profile: %w", err)
	}
	return p, nil
}
