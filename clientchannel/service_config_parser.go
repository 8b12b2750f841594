package clientchannel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/grpc/grpc-sub023/balancer"
	"github.com/grpc/grpc-sub023/serviceconfig"
)

// rawServiceConfig mirrors the wire JSON shape of a gRPC service config
// (spec.md §3 ServiceConfig): a method table plus a load-balancing policy
// selection, either via the structured loadBalancingConfig list or the
// deprecated loadBalancingPolicy string.
type rawServiceConfig struct {
	LoadBalancingPolicy string             `json:"loadBalancingPolicy"`
	LoadBalancingConfig []map[string]any   `json:"loadBalancingConfig"`
	MethodConfig        []rawMethodConfig  `json:"methodConfig"`
}

type rawMethodConfig struct {
	Name         []rawMethodName `json:"name"`
	Timeout      string          `json:"timeout"`
	WaitForReady *bool           `json:"waitForReady"`
	RetryPolicy  any             `json:"retryPolicy"`
}

type rawMethodName struct {
	Service string `json:"service"`
	Method  string `json:"method"`
}

// parseServiceConfigJSON parses a JSON service config string into a
// serviceconfig.ParseResult, resolving the LB policy name/config pair
// against the balancer registry so a policy's own ConfigParser (if any)
// gets a chance to validate its config (spec.md §4.6 step 2).
func parseServiceConfigJSON(jsonRepresentation string) *serviceconfig.ParseResult {
	var raw rawServiceConfig
	if err := json.Unmarshal([]byte(jsonRepresentation), &raw); err != nil {
		return &serviceconfig.ParseResult{Err: fmt.Errorf("clientchannel: invalid service config JSON: %w", err)}
	}

	cfg := &serviceconfig.Config{Methods: map[string]serviceconfig.MethodConfig{}}
	for _, rmc := range raw.MethodConfig {
		mc, err := rmc.toMethodConfig()
		if err != nil {
			return &serviceconfig.ParseResult{Err: err}
		}
		if len(rmc.Name) == 0 {
			cfg.Methods[""] = mc
			continue
		}
		for _, n := range rmc.Name {
			cfg.Methods[methodConfigKey(n)] = mc
		}
	}

	if len(raw.LoadBalancingConfig) > 0 {
		name, lbCfg, err := parseLBPolicyConfig(raw.LoadBalancingConfig)
		if err != nil {
			return &serviceconfig.ParseResult{Err: err}
		}
		cfg.LBPolicyName = name
		cfg.LBPolicyConfig = lbCfg
	} else if raw.LoadBalancingPolicy != "" {
		cfg.LBPolicyName = raw.LoadBalancingPolicy
	}

	return &serviceconfig.ParseResult{Config: cfg}
}

func (rmc rawMethodConfig) toMethodConfig() (serviceconfig.MethodConfig, error) {
	mc := serviceconfig.MethodConfig{WaitForReady: rmc.WaitForReady, RetryPolicy: rmc.RetryPolicy}
	if rmc.Timeout != "" {
		d, err := time.ParseDuration(rmc.Timeout)
		if err != nil {
			return mc, fmt.Errorf("clientchannel: invalid methodConfig timeout %q: %w", rmc.Timeout, err)
		}
		mc.Timeout = d
	}
	return mc, nil
}

// methodConfigKey turns a {service, method} name entry into the lookup
// key serviceconfig.Config.GetMethodConfig expects: "/service/method", or
// "/service/" for a service-level default (method == "").
func methodConfigKey(n rawMethodName) string {
	if n.Method == "" {
		return "/" + n.Service + "/"
	}
	return "/" + n.Service + "/" + n.Method
}

// parseLBPolicyConfig walks the loadBalancingConfig list in priority
// order and returns the first entry named by a registered balancer (spec.md
// §4.6 step 2 "first entry the client recognizes").
func parseLBPolicyConfig(entries []map[string]any) (string, serviceconfig.LoadBalancingConfig, error) {
	for _, entry := range entries {
		for name, raw := range entry {
			builder := balancer.Get(name)
			if builder == nil {
				continue
			}
			if parser, ok := builder.(balancer.ConfigParser); ok {
				rawJSON, err := json.Marshal(raw)
				if err != nil {
					return "", nil, fmt.Errorf("clientchannel: re-marshaling loadBalancingConfig[%q]: %w", name, err)
				}
				lbCfg, err := parser.ParseConfig(rawJSON)
				if err != nil {
					return "", nil, fmt.Errorf("clientchannel: parsing loadBalancingConfig[%q]: %w", name, err)
				}
				return name, lbCfg, nil
			}
			return name, nil, nil
		}
	}
	return "", nil, fmt.Errorf("clientchannel: no loadBalancingConfig entry names a registered policy")
}
