package bondmgr

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/encodeous/nybond/bond"
	"github.com/encodeous/nybond/bondlink"
	"github.com/encodeous/nybond/pathslot"
	"github.com/encodeous/nybond/quality"
)

// Config is the on-disk bonding configuration: named policy
// templates, the links belonging to each, peer-to-policy assignments, and
// the process-wide default. It decodes from and encodes to YAML the way
// the rest of the overlay node configures itself.
type Config struct {
	Default   string                  `yaml:"default"`
	Policies  map[string]PolicyConfig `yaml:"policies"`
	Peers     map[string]string       `yaml:"peers"` // peer address (hex string) -> policy alias
}

// PolicyConfig is one named policy template plus its link set.
type PolicyConfig struct {
	Policy             string       `yaml:"policy"`
	FailoverIntervalMs int64        `yaml:"failover_interval_ms,omitempty"`
	UpDelayMs          int64        `yaml:"up_delay_ms,omitempty"`
	DownDelayMs        int64        `yaml:"down_delay_ms,omitempty"`
	ABLinkSelectMethod string       `yaml:"ab_link_select_method,omitempty"`
	PacketsPerLink     int          `yaml:"packets_per_link,omitempty"`
	Weights            *Weights     `yaml:"weights,omitempty"`
	AcceptableMax      *AcceptMax   `yaml:"acceptable_max,omitempty"`
	Links              []LinkConfig `yaml:"links"`
}

// Weights mirrors quality.Weights for YAML decode convenience.
type Weights struct {
	Latency    float64 `yaml:"latency"`
	Jitter     float64 `yaml:"jitter"`
	Loss       float64 `yaml:"loss"`
	Error      float64 `yaml:"error"`
	Throughput float64 `yaml:"throughput"`
	Scope      float64 `yaml:"scope"`
}

// AcceptMax mirrors quality.AcceptableMax for YAML decode convenience.
type AcceptMax struct {
	LatencyMs float64 `yaml:"latency_ms"`
	JitterMs  float64 `yaml:"jitter_ms"`
	Loss      float64 `yaml:"loss"`
	Error     float64 `yaml:"error"`
}

// LinkConfig is one logical link's on-disk form.
type LinkConfig struct {
	Interface     string `yaml:"interface"`
	Mode          string `yaml:"mode"` // primary|spare|any
	IPPreference  string `yaml:"ip_preference,omitempty"`
	FailoverTo    string `yaml:"failover_to,omitempty"`
	SpeedBps      uint64 `yaml:"speed_bps,omitempty"`
	UserSpecified bool   `yaml:"user_specified,omitempty"`
	Enabled       bool   `yaml:"enabled"`
}

// DecodeConfig parses a YAML bonding configuration document.
func DecodeConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("bondmgr: decode config: %w", err)
	}
	return &cfg, nil
}

// EncodeConfig renders a Config back to YAML, for dump/debug tooling.
func EncodeConfig(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("bondmgr: encode config: %w", err)
	}
	return out, nil
}

// Apply installs every policy template, link set, peer assignment, and
// default declared in cfg into m, replacing any prior definitions with the
// same alias.
func (m *Manager) Apply(cfg *Config) error {
	for alias, pc := range cfg.Policies {
		params, set, err := pc.build(alias)
		if err != nil {
			return fmt.Errorf("bondmgr: policy %q: %w", alias, err)
		}
		m.DefineTemplate(alias, params)
		m.DefineLinks(alias, set)
	}

	for addrStr, alias := range cfg.Peers {
		addr, err := parsePeerAddress(addrStr)
		if err != nil {
			return fmt.Errorf("bondmgr: peer %q: %w", addrStr, err)
		}
		m.AssignPolicy(addr, alias)
	}

	if cfg.Default != "" {
		m.SetDefaultPolicyAlias(cfg.Default)
	}
	return nil
}

func parsePeerAddress(s string) (uint64, error) {
	var addr uint64
	_, err := fmt.Sscanf(s, "%x", &addr)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func (pc PolicyConfig) build(alias string) (bond.Params, *bondlink.Set, error) {
	policy, err := parsePolicy(pc.Policy)
	if err != nil {
		return bond.Params{}, nil, err
	}

	params := bond.DefaultParams(policy)
	if pc.FailoverIntervalMs > 0 {
		params.FailoverInterval = time.Duration(pc.FailoverIntervalMs) * time.Millisecond
	}
	if pc.UpDelayMs > 0 {
		params.UpDelay = time.Duration(pc.UpDelayMs) * time.Millisecond
	}
	if pc.DownDelayMs > 0 {
		params.DownDelay = time.Duration(pc.DownDelayMs) * time.Millisecond
	}
	if pc.PacketsPerLink > 0 {
		params.PacketsPerLink = pc.PacketsPerLink
	}
	if pc.ABLinkSelectMethod != "" {
		method, err := parseABMethod(pc.ABLinkSelectMethod)
		if err != nil {
			return bond.Params{}, nil, err
		}
		params.ABLinkSelectMethod = method
	}
	if pc.Weights != nil {
		w := quality.Weights{
			pc.Weights.Latency, pc.Weights.Jitter, pc.Weights.Loss,
			pc.Weights.Error, pc.Weights.Throughput, pc.Weights.Scope,
		}
		if !w.Valid() {
			return bond.Params{}, nil, fmt.Errorf("weights must sum to 1.0, got %f", w.Sum())
		}
		params.Weights = w
	}
	if pc.AcceptableMax != nil {
		params.AcceptableMax = quality.AcceptableMax{
			Latency: pc.AcceptableMax.LatencyMs,
			Jitter:  pc.AcceptableMax.JitterMs,
			Loss:    pc.AcceptableMax.Loss,
			Error:   pc.AcceptableMax.Error,
		}
	}

	set := bondlink.NewSet(alias)
	for _, lc := range pc.Links {
		l, err := lc.build()
		if err != nil {
			return bond.Params{}, nil, err
		}
		set.Add(l)
	}
	return params, set, nil
}

func (lc LinkConfig) build() (*bondlink.Link, error) {
	mode, err := parseMode(lc.Mode)
	if err != nil {
		return nil, err
	}
	ipPref, err := parseIPPref(lc.IPPreference)
	if err != nil {
		return nil, err
	}
	return &bondlink.Link{
		InterfaceName: lc.Interface,
		Mode:          mode,
		IPPref:        ipPref,
		FailoverTo:    lc.FailoverTo,
		SpeedBps:      lc.SpeedBps,
		UserSpecified: lc.UserSpecified,
		Enabled:       lc.Enabled,
	}, nil
}

func parsePolicy(s string) (bond.Policy, error) {
	switch s {
	case "active-backup", "":
		return bond.PolicyActiveBackup, nil
	case "broadcast":
		return bond.PolicyBroadcast, nil
	case "balance-rr":
		return bond.PolicyBalanceRR, nil
	case "balance-xor":
		return bond.PolicyBalanceXOR, nil
	case "balance-aware":
		return bond.PolicyBalanceAware, nil
	default:
		return 0, fmt.Errorf("unknown policy %q", s)
	}
}

func parseABMethod(s string) (bond.ABLinkSelectMethod, error) {
	switch s {
	case "always":
		return bond.ABSelectAlways, nil
	case "better":
		return bond.ABSelectBetter, nil
	case "failure":
		return bond.ABSelectFailure, nil
	case "optimize", "":
		return bond.ABSelectOptimize, nil
	default:
		return 0, fmt.Errorf("unknown ab_link_select_method %q", s)
	}
}

func parseMode(s string) (pathslot.Mode, error) {
	switch s {
	case "primary":
		return pathslot.ModePrimary, nil
	case "spare", "", "any":
		return pathslot.ModeSpare, nil
	default:
		return 0, fmt.Errorf("unknown link mode %q", s)
	}
}

func parseIPPref(s string) (pathslot.IPPreference, error) {
	switch s {
	case "", "any":
		return pathslot.IPPreferAny, nil
	case "strict-v4":
		return pathslot.IPPreferV4, nil
	case "strict-v6":
		return pathslot.IPPreferV6, nil
	case "prefer-v4":
		return pathslot.IPPreferPreferV4, nil
	case "prefer-v6":
		return pathslot.IPPreferPreferV6, nil
	default:
		return 0, fmt.Errorf("unknown ip_preference %q", s)
	}
}
