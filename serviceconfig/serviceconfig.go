// Package serviceconfig defines the parsed service-configuration types the
// resolver produces and the client channel applies per call (spec.md §3
// ServiceConfig, ConfigSelector).
package serviceconfig

import "time"

// LoadBalancingConfig is the parsed, opaque configuration for whichever LB
// policy a MethodConfig or the channel-global config names. Each LB policy
// builder defines its own concrete type; the channel only ever threads the
// value through.
type LoadBalancingConfig any

// MethodConfig is the per-method configuration the channel applies to a
// call once a ConfigSelector has chosen it (spec.md §3: "timeout,
// wait-for-ready flag, retry policy, LB-hint attributes").
type MethodConfig struct {
	// Timeout bounds the call's deadline; zero means no method-level
	// timeout is imposed.
	Timeout time.Duration
	// WaitForReady, if non-nil, overrides the call's wait-for-ready flag
	// unless the application explicitly set one.
	WaitForReady *bool
	// RetryPolicy is opaque to the core; filters above it interpret it.
	RetryPolicy any
}

// Config is the channel-wide parsed service configuration: a method table
// plus the channel-global LB policy selection.
type Config struct {
	// Methods maps a fully qualified method ("/service/Method") to its
	// MethodConfig. A "/service/" entry (no method) is a per-service
	// default; "" is the global default.
	Methods map[string]MethodConfig
	// LBPolicyName is the LB policy named by the service config's
	// loadBalancingConfig field, if any.
	LBPolicyName string
	// LBPolicyConfig is the parsed per-policy config, produced by that
	// policy's balancer.Builder if it implements ConfigParser.
	LBPolicyConfig LoadBalancingConfig
}

// GetMethodConfig returns the most specific MethodConfig for path
// ("/service/method"), falling back to the service-level then the global
// default, and reports whether any of these (the global default included)
// matched.
func (c *Config) GetMethodConfig(path string) (MethodConfig, bool) {
	if c == nil {
		return MethodConfig{}, false
	}
	if mc, ok := c.Methods[path]; ok {
		return mc, true
	}
	if i := lastSlash(path); i >= 0 {
		if mc, ok := c.Methods[path[:i+1]]; ok {
			return mc, true
		}
	}
	mc, ok := c.Methods[""]
	return mc, ok
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// ParseResult is what a resolver.ClientConn.ParseServiceConfig returns:
// either a usable Config or an Err explaining why parsing failed (spec.md
// §7 "service-config parse errors").
type ParseResult struct {
	Config *Config
	Err    error
}

// CallAttributes are opaque, per-call values a ConfigSelector may attach
// for consumption by LB pick implementations (spec.md §3 ConfigSelector:
// "may attach call attributes consumed by LB picks, e.g., affinity
// keys").
type CallAttributes map[string]any

// CallConfig is what ConfigSelector.SelectConfig returns for one call:
// the chosen MethodConfig, call attributes for the LB pick, and an
// optional commit callback.
type CallConfig struct {
	MethodConfig MethodConfig
	Attributes   CallAttributes
	// OnCommitted, if non-nil, is invoked exactly once when the call
	// commits to a single attempt (spec.md §4.7 "Config-selector
	// commit"): on arrival of recv_initial_metadata.
	OnCommitted func()
}

// ConfigSelector is produced by a resolver result and chooses per-call
// configuration (spec.md §3 ConfigSelector, §4.7 "apply the
// ConfigSelector").
type ConfigSelector interface {
	// SelectConfig returns the CallConfig to use for a call to path.
	SelectConfig(path string) (CallConfig, error)
}

// DefaultConfigSelector derives CallConfig purely from a Config's method
// table, with no per-call attributes or commit hook — ported from
// DefaultConfigSelector in config_selector.h.
type DefaultConfigSelector struct {
	Config *Config
}

// SelectConfig implements ConfigSelector.
func (d DefaultConfigSelector) SelectConfig(path string) (CallConfig, error) {
	mc, _ := d.Config.GetMethodConfig(path)
	return CallConfig{MethodConfig: mc}, nil
}
