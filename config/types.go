package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/talostrading/mcperf/util"
	"gopkg.in/yaml.v3"
)

// Rate is a bit-rate in kbit/s. In YAML and on the command line it is either a
// plain number of kbit/s or a number with a unit such as 8.4mbit or 500k.
type Rate int64

func (r Rate) Kbps() int64 { return int64(r) }

func (r Rate) String() string {
	return strconv.FormatInt(int64(r), 10)
}

func (r *Rate) Set(s string) error {
	kbps, err := util.ParseRateKbps(s)
	if err != nil {
		return err
	}
	*r = Rate(kbps)
	return nil
}

func (r *Rate) Type() string { return "rate" }

func (r *Rate) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("rate must be a scalar")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return r.Set(raw)
}

// Duration accepts Go duration strings or plain numbers of seconds.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) Set(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) Type() string { return "duration" }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		return d.Set(raw)
	}
}
