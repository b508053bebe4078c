package compute

import (
	"github.com/sampleapp-dev/sampleinfra/internal/credentials"
	"github.com/sampleapp-dev/sampleinfra/internal/network"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
)

// NodeID is the service's plan node.
const NodeID plan.ID = "compute/service"

// Attributes a provisioned service reports.
const (
	AttrURL       = "url"
	AttrARN       = "arn"
	AttrServiceID = "serviceId"
)

// Output names.
const (
	ServiceURLOutput = "ServiceURL"
	ServiceARNOutput = "ServiceARN"
)

// Handle is the declared service.
type Handle struct {
	ID      plan.ID
	Service *Service
	Secret  *credentials.SecretHandle
}

// Declare adds the service node and its outputs. The node references the
// network (connector placement) and the connection secret (its name). The
// ordering edge to the database is left to the composer.
func Declare(p *plan.Plan, net *network.Handle, secret *credentials.SecretHandle, svc *Service) (*Handle, error) {
	if _, err := p.Graph.Add(NodeID, plan.KindComputeService, svc, net.ID, secret.ID); err != nil {
		return nil, err
	}
	outputs := []plan.Output{
		{
			Name:        ServiceURLOutput,
			Description: "Default domain of the App Runner service",
			Format:      "%s",
			Refs:        []plan.Ref{{Node: NodeID, Attr: AttrURL}},
		},
		{
			Name:        ServiceARNOutput,
			Description: "ARN of the App Runner service",
			Format:      "%s",
			Refs:        []plan.Ref{{Node: NodeID, Attr: AttrARN}},
		},
	}
	for _, out := range outputs {
		if err := p.AddOutput(out); err != nil {
			return nil, err
		}
	}
	return &Handle{ID: NodeID, Service: svc, Secret: secret}, nil
}
