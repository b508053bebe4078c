package network

import (
	"fmt"
	"strconv"
	"strings"
)

// TierKind is the reachability policy of a subnet tier.
type TierKind string

const (
	// TierPublic subnets route to an internet gateway.
	TierPublic TierKind = "public"
	// TierPrivateEgress subnets reach the internet outbound only, via NAT.
	TierPrivateEgress TierKind = "private-egress"
	// TierIsolated subnets have no route outside the VPC.
	TierIsolated TierKind = "isolated"
)

func (k TierKind) valid() bool {
	switch k {
	case TierPublic, TierPrivateEgress, TierIsolated:
		return true
	}
	return false
}

// Tier is one requested subnet tier; it yields one subnet per availability
// zone.
type Tier struct {
	Name string   `json:"name" yaml:"name"`
	Kind TierKind `json:"kind" yaml:"kind"`
	Mask int      `json:"mask" yaml:"mask"`
}

// ParseTier parses "name:kind:mask", e.g. "db:isolated:24".
func ParseTier(s string) (Tier, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Tier{}, &ConfigError{Field: "tier", Reason: fmt.Sprintf("%q must have the form name:kind:mask", s)}
	}
	name, kind := parts[0], TierKind(parts[1])
	if name == "" {
		return Tier{}, &ConfigError{Field: "tier", Reason: fmt.Sprintf("%q has an empty name", s)}
	}
	if !kind.valid() {
		return Tier{}, &ConfigError{Field: "tier", Reason: fmt.Sprintf("%q has unknown kind %q (want public, private-egress or isolated)", s, parts[1])}
	}
	mask, err := strconv.Atoi(parts[2])
	if err != nil {
		return Tier{}, &ConfigError{Field: "tier", Reason: fmt.Sprintf("%q has a non-numeric mask", s)}
	}
	return Tier{Name: name, Kind: kind, Mask: mask}, nil
}

// ParseTiers parses a tier list and rejects duplicate names.
func ParseTiers(specs []string) ([]Tier, error) {
	tiers := make([]Tier, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		t, err := ParseTier(s)
		if err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, &ConfigError{Field: "tier", Reason: fmt.Sprintf("duplicate tier name %q", t.Name)}
		}
		seen[t.Name] = true
		tiers = append(tiers, t)
	}
	return tiers, nil
}

// ConfigError is a static configuration problem found while evaluating the
// plan, before anything is provisioned.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("network %s: %s", e.Field, e.Reason)
}
