package network

import (
	"fmt"
	"net/netip"
)

// Well-known security group roles.
const (
	RoleCompute  = "compute"
	RoleDatabase = "database"
	RoleBastion  = "bastion"
	RoleEndpoint = "endpoint"
)

// AnyIPv4 is the internet as a rule peer.
const AnyIPv4 = "0.0.0.0/0"

// Peer is the other side of a rule: exactly one of SecurityGroup (a role in
// the same topology) or CIDR.
type Peer struct {
	SecurityGroup string `json:"securityGroup,omitempty" yaml:"securityGroup,omitempty"`
	CIDR          string `json:"cidr,omitempty" yaml:"cidr,omitempty"`
}

// FromGroup returns a security group peer.
func FromGroup(role string) Peer { return Peer{SecurityGroup: role} }

// FromCIDR returns a CIDR peer.
func FromCIDR(cidr string) Peer { return Peer{CIDR: cidr} }

func (p Peer) String() string {
	if p.SecurityGroup != "" {
		return "sg:" + p.SecurityGroup
	}
	return p.CIDR
}

// Rule is a single-port TCP ingress allowance.
type Rule struct {
	Protocol    string `json:"protocol" yaml:"protocol"`
	Port        int    `json:"port" yaml:"port"`
	Peer        Peer   `json:"peer" yaml:"peer"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// SecurityGroup is a named allow-list. Ingress only ever grows through
// AllowFrom, one peer and one port at a time.
type SecurityGroup struct {
	Role             string `json:"role" yaml:"role"`
	Name             string `json:"name" yaml:"name"`
	Description      string `json:"description" yaml:"description"`
	AllowAllOutbound bool   `json:"allowAllOutbound" yaml:"allowAllOutbound"`
	Ingress          []Rule `json:"ingress,omitempty" yaml:"ingress,omitempty"`
}

// AllowFrom adds a TCP ingress rule for a single port from a single peer.
func (sg *SecurityGroup) AllowFrom(peer Peer, port int, description string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("security group %s: %d is not a TCP port", sg.Role, port)
	}
	switch {
	case peer.SecurityGroup != "" && peer.CIDR != "":
		return fmt.Errorf("security group %s: peer must be a group or a CIDR, not both", sg.Role)
	case peer.SecurityGroup == "" && peer.CIDR == "":
		return fmt.Errorf("security group %s: peer is empty", sg.Role)
	case peer.CIDR != "":
		if _, err := netip.ParsePrefix(peer.CIDR); err != nil {
			return fmt.Errorf("security group %s: %w", sg.Role, err)
		}
	case peer.SecurityGroup == sg.Role:
		return fmt.Errorf("security group %s: self-referencing rules are not allowed", sg.Role)
	}
	for _, r := range sg.Ingress {
		if r.Port == port && r.Peer == peer {
			return fmt.Errorf("security group %s: rule for %s on %d already exists", sg.Role, peer, port)
		}
	}
	sg.Ingress = append(sg.Ingress, Rule{
		Protocol:    "tcp",
		Port:        port,
		Peer:        peer,
		Description: description,
	})
	return nil
}

// AllowsFrom reports whether the group accepts peer on port.
func (sg *SecurityGroup) AllowsFrom(peer Peer, port int) bool {
	for _, r := range sg.Ingress {
		if r.Peer == peer && r.Port == port {
			return true
		}
	}
	return false
}
