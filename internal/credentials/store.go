// Package credentials declares the generated database credential and the
// connection secret derived from a provisioned cluster. Handles carry names
// and references only; secret values exist solely inside a provisioning
// engine.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sampleapp-dev/sampleinfra/internal/plan"
)

const (
	// UsernameKey is the template field every credential must carry.
	UsernameKey = "username"
	// GenerateKey is the field the generated password is stored under.
	GenerateKey = "password"
)

// Attributes a provisioned credential or secret reports.
const (
	AttrName     = "name"
	AttrARN      = "arn"
	AttrUsername = "username"
	AttrPassword = "password"
)

var (
	// ErrMissingTemplateField is returned when a template lacks a required field.
	ErrMissingTemplateField = errors.New("credential template is missing a required field")
	// ErrNoCredential is returned when a connection source has no credential.
	ErrNoCredential = errors.New("connection source has no credential")
)

// Template holds the fixed, non-secret fields of a credential.
type Template map[string]string

// Credential is the declaration stored in the plan for a generated secret.
type Credential struct {
	Name        string         `json:"name" yaml:"name"`
	Template    Template       `json:"template" yaml:"template"`
	GenerateKey string         `json:"generateKey" yaml:"generateKey"`
	Policy      PasswordPolicy `json:"policy" yaml:"policy"`
}

// CredentialHandle identifies a declared credential. It never holds the
// generated value.
type CredentialHandle struct {
	ID         plan.ID
	Credential *Credential
}

// Name is the secret name.
func (h *CredentialHandle) Name() string { return h.Credential.Name }

// Username is the fixed username from the template.
func (h *CredentialHandle) Username() string { return h.Credential.Template[UsernameKey] }

// PasswordRef references the generated password.
func (h *CredentialHandle) PasswordRef() plan.Ref {
	return plan.Ref{Node: h.ID, Attr: AttrPassword}
}

// SecretString renders the stored JSON document for a generated password.
func (c *Credential) SecretString(password string) (string, error) {
	doc := make(map[string]string, len(c.Template)+1)
	for k, v := range c.Template {
		doc[k] = v
	}
	doc[c.GenerateKey] = password
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ConnectionSource is anything that reports connection attributes once
// provisioned, in practice a database cluster.
type ConnectionSource interface {
	NodeID() plan.ID
	Credential() *CredentialHandle
	ConnectionRefs() ConnectionRefs
}

// ConnectionSecret is the declaration of a derived connection string secret.
type ConnectionSecret struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Source      plan.ID        `json:"source" yaml:"source"`
	Refs        ConnectionRefs `json:"refs" yaml:"refs"`
}

// SecretHandle is the one-way reference downstream components receive.
type SecretHandle struct {
	ID     plan.ID
	Secret *ConnectionSecret
}

// Name is the secret name, the only thing a consumer is ever given.
func (h *SecretHandle) Name() string { return h.Secret.Name }

// Store declares credentials and connection secrets into a plan.
type Store struct {
	plan   *plan.Plan
	policy PasswordPolicy
}

// NewStore returns a store that generates passwords under policy. The unsafe
// connection string characters are always excluded.
func NewStore(p *plan.Plan, policy PasswordPolicy) (*Store, error) {
	policy = policy.Effective()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Store{plan: p, policy: policy}, nil
}

// GenerateCredential declares a generated credential.
func (s *Store) GenerateCredential(name string, tmpl Template) (*CredentialHandle, error) {
	if name == "" {
		return nil, fmt.Errorf("credential name must not be empty")
	}
	if tmpl[UsernameKey] == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingTemplateField, UsernameKey)
	}
	if _, ok := tmpl[GenerateKey]; ok {
		return nil, fmt.Errorf("credential template must not set %s", GenerateKey)
	}
	keys := make([]string, 0, len(tmpl))
	for k, v := range tmpl {
		if v == "" {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: empty %v", ErrMissingTemplateField, keys)
	}

	c := &Credential{
		Name:        name,
		Template:    copyTemplate(tmpl),
		GenerateKey: GenerateKey,
		Policy:      s.policy,
	}
	id := plan.ID("credential/" + name)
	if _, err := s.plan.Graph.Add(id, plan.KindCredential, c); err != nil {
		return nil, err
	}
	return &CredentialHandle{ID: id, Credential: c}, nil
}

// DeriveConnectionSecret declares a secret whose value is the connection
// string of source. The node references source, so no engine can evaluate it
// before the cluster's attributes resolve.
func (s *Store) DeriveConnectionSecret(name string, source ConnectionSource) (*SecretHandle, error) {
	if name == "" {
		return nil, fmt.Errorf("connection secret name must not be empty")
	}
	if source == nil || source.Credential() == nil {
		return nil, ErrNoCredential
	}
	if name == source.Credential().Name() {
		return nil, fmt.Errorf("connection secret name %q collides with the credential", name)
	}
	secret := &ConnectionSecret{
		Name:        name,
		Description: "Connection string for " + string(source.NodeID()),
		Source:      source.NodeID(),
		Refs:        source.ConnectionRefs(),
	}
	id := plan.ID("secret/" + name)
	if _, err := s.plan.Graph.Add(id, plan.KindConnectionSecret, secret, source.NodeID()); err != nil {
		return nil, err
	}
	return &SecretHandle{ID: id, Secret: secret}, nil
}

func copyTemplate(t Template) Template {
	out := make(Template, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
