package sensor

import (
	"sort"
	"strconv"
	"strings"
)

// Options are raw name=value settings for a driver, as typed on a command
// line. Each driver turns them into its typed Opts and rejects anything it
// does not recognize.
type Options map[string]string

// ParseOptions builds Options from "name=value" pairs.
func ParseOptions(pairs []string) (Options, error) {
	o := Options{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if !ok || k == "" {
			return nil, configErrorf(p, "", "expected name=value")
		}
		if _, dup := o[k]; dup {
			return nil, configErrorf(k, v, "given more than once")
		}
		o[k] = v
	}
	return o, nil
}

// Check returns a ConfigError for the first option not in known.
func (o Options) Check(known ...string) error {
	names := make([]string, 0, len(o))
	for k := range o {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		found := false
		for _, n := range known {
			if k == n {
				found = true
				break
			}
		}
		if !found {
			return configErrorf(k, o[k], "unknown option, valid are %s", strings.Join(known, ", "))
		}
	}
	return nil
}

// Int returns the integer option name, or def when it is not set. Values
// outside [min, max] are rejected.
func (o Options) Int(name string, def, min, max int) (int, error) {
	s, ok := o[name]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseInt(s, 0, 0)
	if err != nil {
		return 0, configErrorf(name, s, "not an integer")
	}
	if int(v) < min || int(v) > max {
		return 0, configErrorf(name, s, "must be within %d..%d", min, max)
	}
	return int(v), nil
}

// Float returns the float option name, or def when it is not set.
func (o Options) Float(name string, def, min, max float64) (float64, error) {
	s, ok := o[name]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, configErrorf(name, s, "not a number")
	}
	if v < min || v > max {
		return 0, configErrorf(name, s, "must be within %g..%g", min, max)
	}
	return v, nil
}

// Enum returns the option name if it is one of allowed, or def when unset.
func (o Options) Enum(name, def string, allowed []string) (string, error) {
	s, ok := o[name]
	if !ok {
		return def, nil
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", configErrorf(name, s, "must be one of %s", strings.Join(allowed, ", "))
}
