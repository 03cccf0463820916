// Package config loads and validates the TOML configuration file that
// describes which Wi-Fi networks arm the tunnel, which destination subnets
// count as tunnel-worthy traffic, and which interface/connection names to
// drive.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/malbeclabs/wg-ondemand/internal/ifprobe"
	"github.com/malbeclabs/wg-ondemand/internal/subnet"
	"github.com/malbeclabs/wg-ondemand/internal/wgerr"
)

const defaultIdleTimeout = 300 * time.Second

// rawConfig mirrors the on-disk TOML shape. TargetSSIDs is decoded as
// interface{} because the field accepts either a bare string or a list of
// strings.
type rawConfig struct {
	WGInterface      string      `toml:"wg_interface"`
	NMConnection     string      `toml:"nm_connection"`
	MonitorInterface string      `toml:"monitor_interface"`
	TargetSSIDs      interface{} `toml:"target_ssids"`
	ExcludeSSIDs     []string    `toml:"exclude_ssids"`
	IdleTimeoutSecs  uint64      `toml:"idle_timeout"`
	LogLevel         string      `toml:"log_level"`
	Subnets          struct {
		Ranges []string `toml:"ranges"`
	} `toml:"subnets"`
}

// Config is the validated, ready-to-use configuration.
type Config struct {
	WGInterface      string
	NMConnection     string
	MonitorInterface string
	TargetSSIDs      []string
	ExcludeSSIDs     []string
	IdleTimeout      time.Duration
	LogLevel         string
	Subnets          []subnet.Subnet
	SubnetCIDRs      []string
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	var raw rawConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", wgerr.ErrConfig, path, err)
	}
	return fromRaw(raw)
}

// Decode parses TOML from an in-memory byte slice, for tests and embedded
// defaults.
func Decode(data []byte) (*Config, error) {
	var raw rawConfig
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding config: %v", wgerr.ErrConfig, err)
	}
	return fromRaw(raw)
}

func fromRaw(raw rawConfig) (*Config, error) {
	targets, err := stringOrList(raw.TargetSSIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: target_ssids: %v", wgerr.ErrConfig, err)
	}

	cfg := &Config{
		WGInterface:      raw.WGInterface,
		NMConnection:     raw.NMConnection,
		MonitorInterface: raw.MonitorInterface,
		TargetSSIDs:      targets,
		ExcludeSSIDs:     raw.ExcludeSSIDs,
		IdleTimeout:      time.Duration(raw.IdleTimeoutSecs) * time.Second,
		LogLevel:         raw.LogLevel,
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	subnets, err := parseSubnets(raw.Subnets.Ranges)
	if err != nil {
		return nil, err
	}
	cfg.Subnets = subnets
	cfg.SubnetCIDRs = raw.Subnets.Ranges

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringOrList accepts a TOML value that is either a bare string or a list
// of strings, per the config schema's target_ssids field. A nil value (key
// absent) decodes to an empty list, meaning "all networks".
func stringOrList(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("list entries must be strings, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a string or list of strings, got %T", v)
	}
}

func parseSubnets(ranges []string) ([]subnet.Subnet, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: subnets.ranges must specify at least one CIDR", wgerr.ErrValidation)
	}
	if len(ranges) > subnet.MaxSubnets {
		return nil, fmt.Errorf("%w: subnets.ranges specifies %d entries, max %d", wgerr.ErrValidation, len(ranges), subnet.MaxSubnets)
	}
	subnets := make([]subnet.Subnet, 0, len(ranges))
	for _, cidr := range ranges {
		s, err := subnet.Parse(cidr)
		if err != nil {
			return nil, fmt.Errorf("%w: subnets.ranges: %v", wgerr.ErrValidation, err)
		}
		subnets = append(subnets, s)
	}
	return subnets, nil
}

// validate enforces the rules, including the name charset on wg_interface,
// nm_connection, and monitor_interface. wg_interface and nm_connection reach
// an exec.Command argument list; monitor_interface is passed only to netlink
// and net calls but is held to the same charset.
func (c *Config) validate() error {
	if c.WGInterface == "" {
		return fmt.Errorf("%w: wg_interface is required", wgerr.ErrValidation)
	}
	if err := ifprobe.ValidateName(c.WGInterface); err != nil {
		return fmt.Errorf("%w: wg_interface: %v", wgerr.ErrValidation, err)
	}
	if c.NMConnection != "" {
		if err := ifprobe.ValidateName(c.NMConnection); err != nil {
			return fmt.Errorf("%w: nm_connection: %v", wgerr.ErrValidation, err)
		}
	}
	if c.MonitorInterface != "" {
		if err := ifprobe.ValidateName(c.MonitorInterface); err != nil {
			return fmt.Errorf("%w: monitor_interface: %v", wgerr.ErrValidation, err)
		}
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle_timeout must be greater than zero", wgerr.ErrValidation)
	}

	exclude := make(map[string]bool, len(c.ExcludeSSIDs))
	for _, s := range c.ExcludeSSIDs {
		exclude[s] = true
	}
	for _, s := range c.TargetSSIDs {
		if exclude[s] {
			return fmt.Errorf("%w: SSID %q listed in both target_ssids and exclude_ssids", wgerr.ErrValidation, s)
		}
	}
	return nil
}
