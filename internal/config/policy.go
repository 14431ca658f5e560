package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

// Policy is the per-tenant gate configuration loaded from YAML:
//
//	default:
//	  threshold: 0.62
//	  weights: {compliance: 0.8, attestation: 0.5, entropy: 0.7}
//	  deny_tags: [forbid]
//	tenants:
//	  acme:
//	    threshold: 0.7
type Policy struct {
	Default Override            `yaml:"default"`
	Tenants map[string]Override `yaml:"tenants"`

	base gate.Config
}

// Override replaces the inherited value for every field that is set.
type Override struct {
	Threshold *float64         `yaml:"threshold,omitempty"`
	Weights   *WeightsOverride `yaml:"weights,omitempty"`
	DenyTags  []string         `yaml:"deny_tags,omitempty"`
}

// WeightsOverride is merged per field, so a tenant that only sets
// compliance keeps the inherited attestation and entropy weights.
type WeightsOverride struct {
	Compliance  *float64 `yaml:"compliance,omitempty"`
	Attestation *float64 `yaml:"attestation,omitempty"`
	Entropy     *float64 `yaml:"entropy,omitempty"`
}

func (o WeightsOverride) apply(w trust.Weights) trust.Weights {
	if o.Compliance != nil {
		w.Compliance = *o.Compliance
	}
	if o.Attestation != nil {
		w.Attestation = *o.Attestation
	}
	if o.Entropy != nil {
		w.Entropy = *o.Entropy
	}
	return w
}

// LoadPolicy reads a policy file layered on top of base. Every tenant
// resolves to a valid configuration or the load fails.
func LoadPolicy(path string, base gate.Config) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data, base)
}

// ParsePolicy is LoadPolicy over an in-memory document.
func ParsePolicy(data []byte, base gate.Config) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	p.base = base
	if _, err := p.For(""); err != nil {
		return nil, fmt.Errorf("policy default: %w", err)
	}
	for _, name := range p.TenantNames() {
		if _, err := p.For(name); err != nil {
			return nil, fmt.Errorf("policy tenant %s: %w", name, err)
		}
	}
	return &p, nil
}

// StaticPolicy wraps a single configuration with no tenants.
func StaticPolicy(base gate.Config) *Policy {
	return &Policy{base: base}
}

// For resolves the configuration for tenant. Unknown or empty tenants get
// the default section.
func (p *Policy) For(tenant string) (gate.Config, error) {
	cfg := p.Default.apply(p.base)
	if o, ok := p.Tenants[tenant]; ok && tenant != "" {
		cfg = o.apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return gate.Config{}, err
	}
	return cfg, nil
}

// Key names the policy section tenant resolves to: the tenant itself when it
// has a section, "" for the default.
func (p *Policy) Key(tenant string) string {
	if _, ok := p.Tenants[tenant]; ok {
		return tenant
	}
	return ""
}

// TenantNames lists configured tenants, sorted.
func (p *Policy) TenantNames() []string {
	out := make([]string, 0, len(p.Tenants))
	for name := range p.Tenants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (o Override) apply(cfg gate.Config) gate.Config {
	if o.Threshold != nil {
		cfg.Threshold = *o.Threshold
	}
	if o.Weights != nil {
		cfg.Weights = o.Weights.apply(cfg.Weights)
	}
	if o.DenyTags != nil {
		cfg.DenyTags = append([]string(nil), o.DenyTags...)
	}
	return cfg
}
