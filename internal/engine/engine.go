// Package engine is an in-memory provisioning engine. It applies a plan the
// way a real engine would (topological order, attribute resolution, database
// lifecycle, rollback on failure) without calling any cloud API, which makes
// plans testable and lets operators dry-run them.
package engine

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/sampleapp-dev/sampleinfra/internal/compute"
	"github.com/sampleapp-dev/sampleinfra/internal/credentials"
	"github.com/sampleapp-dev/sampleinfra/internal/database"
	"github.com/sampleapp-dev/sampleinfra/internal/logging"
	"github.com/sampleapp-dev/sampleinfra/internal/network"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/ssh"
)

var (
	// ErrDependencyNotReady is returned when a node is applied before one of
	// its dependencies has been provisioned.
	ErrDependencyNotReady = errors.New("dependency not provisioned")
	// ErrSecretMissing is returned when a compute service names a secret
	// that does not exist.
	ErrSecretMissing = errors.New("referenced secret does not exist")
	// ErrUnsupportedKind is returned for a node kind the engine cannot apply.
	ErrUnsupportedKind = errors.New("unsupported node kind")
)

const tracerName = "github.com/sampleapp-dev/sampleinfra/internal/engine"

// Deployment is the result of a successful Apply.
type Deployment struct {
	Applied []plan.ID
	Outputs map[string]string
}

// Teardown is the result of Destroy.
type Teardown struct {
	Destroyed []plan.ID
	Retained  []plan.ID
	Snapshots []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger replaces the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSecretStore shares a secret store with the caller.
func WithSecretStore(s *SecretStore) Option {
	return func(e *Engine) { e.secrets = s }
}

// WithTracerProvider records the engine's spans with tp instead of the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithFailure makes the node with the given ID fail while it is being
// provisioned, the way a quota or permission error would.
func WithFailure(id plan.ID, err error) Option {
	return func(e *Engine) { e.failures[id] = err }
}

// Engine applies plans in memory. It is not safe for concurrent use; its
// SecretStore is.
type Engine struct {
	env        plan.Environment
	logger     *zap.Logger
	tracer     trace.Tracer
	secrets    *SecretStore
	parameters map[string]string
	failures   map[plan.ID]error

	attrs      map[plan.ID]plan.Attributes
	created    []plan.ID
	clusters   map[plan.ID]*database.Lifecycle
	topologies map[plan.ID]*network.Topology
	seq        int
}

var _ plan.Resolver = (*Engine)(nil)

// New returns an engine for the given environment.
func New(env plan.Environment, opts ...Option) *Engine {
	e := &Engine{
		env:        env,
		logger:     logging.EngineLog,
		tracer:     otel.Tracer(tracerName),
		parameters: make(map[string]string),
		failures:   make(map[plan.ID]error),
		attrs:      make(map[plan.ID]plan.Attributes),
		clusters:   make(map[plan.ID]*database.Lifecycle),
		topologies: make(map[plan.ID]*network.Topology),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.secrets == nil {
		e.secrets = NewSecretStore(env.Region, env.Account)
	}
	return e
}

// Secrets returns the engine's secret store.
func (e *Engine) Secrets() *SecretStore { return e.secrets }

// Parameter returns an SSM parameter written during Apply.
func (e *Engine) Parameter(name string) (string, bool) {
	v, ok := e.parameters[name]
	return v, ok
}

// Attributes implements plan.Resolver.
func (e *Engine) Attributes(id plan.ID) (plan.Attributes, bool) {
	a, ok := e.attrs[id]
	return a, ok
}

// ClusterState returns the lifecycle state of a database node.
func (e *Engine) ClusterState(id plan.ID) database.State {
	if l, ok := e.clusters[id]; ok {
		return l.State()
	}
	return database.StateUnprovisioned
}

// ClusterHistory returns every state a database node went through.
func (e *Engine) ClusterHistory(id plan.ID) []database.State {
	if l, ok := e.clusters[id]; ok {
		return l.History()
	}
	return nil
}

// Apply provisions every node of p in topological order and resolves the
// outputs. On any failure everything created by this call is removed again in
// reverse order and the original error is returned.
func (e *Engine) Apply(ctx context.Context, p *plan.Plan) (dep *Deployment, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Apply", trace.WithAttributes(
		attribute.String("plan", p.Name),
		attribute.Int("nodes", p.Graph.Len()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := p.Environment.Validate(); err != nil {
		return nil, err
	}
	order, err := p.Graph.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	start := len(e.created)
	dep = &Deployment{Outputs: make(map[string]string)}
	for _, n := range order {
		if err := ctx.Err(); err != nil {
			e.rollback(ctx, start)
			return nil, err
		}
		if err := e.provision(ctx, n); err != nil {
			logging.Log(ctx, e.logger, zapcore.ErrorLevel, "node failed, rolling back",
				zap.String("node", string(n.ID)), zap.Error(err))
			e.rollback(ctx, start)
			return nil, fmt.Errorf("apply %s: %w", n.ID, err)
		}
		dep.Applied = append(dep.Applied, n.ID)
	}

	for _, out := range p.Outputs {
		v, err := out.Resolve(e)
		if err != nil {
			e.rollback(ctx, start)
			return nil, err
		}
		dep.Outputs[out.Name] = v
	}
	logging.Log(ctx, e.logger, zapcore.InfoLevel, "plan applied",
		zap.String("plan", p.Name), zap.Int("nodes", len(dep.Applied)))
	return dep, nil
}

func (e *Engine) provision(ctx context.Context, n *plan.Node) error {
	ctx, span := e.tracer.Start(ctx, "engine.provision", trace.WithAttributes(
		attribute.String("node", string(n.ID)),
		attribute.String("kind", string(n.Kind)),
	))
	defer span.End()
	if err := e.applyNode(ctx, n); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *Engine) applyNode(ctx context.Context, n *plan.Node) error {
	for _, dep := range n.Dependencies() {
		if _, ok := e.attrs[dep]; !ok {
			return fmt.Errorf("%w: %s", ErrDependencyNotReady, dep)
		}
	}

	var (
		attrs plan.Attributes
		err   error
	)
	switch spec := n.Spec.(type) {
	case *network.Topology:
		attrs, err = e.applyNetwork(n, spec)
	case *network.Bastion:
		attrs, err = e.applyBastion(n, spec)
	case *credentials.Credential:
		attrs, err = e.applyCredential(n, spec)
	case *database.Cluster:
		attrs, err = e.applyCluster(n, spec)
	case *credentials.ConnectionSecret:
		attrs, err = e.applyConnectionSecret(n, spec)
	case *compute.Service:
		attrs, err = e.applyService(n, spec)
	default:
		return fmt.Errorf("%w: %s (%T)", ErrUnsupportedKind, n.Kind, n.Spec)
	}
	if err != nil {
		return err
	}
	e.attrs[n.ID] = attrs
	e.created = append(e.created, n.ID)
	logging.Log(ctx, e.logger, zapcore.DebugLevel, "node provisioned",
		zap.String("node", string(n.ID)), zap.String("kind", string(n.Kind)))
	return nil
}

func (e *Engine) injected(id plan.ID) error {
	return e.failures[id]
}

func (e *Engine) newID(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s-%017x", prefix, e.seq)
}

func (e *Engine) applyNetwork(n *plan.Node, t *network.Topology) (plan.Attributes, error) {
	if err := e.injected(n.ID); err != nil {
		return nil, err
	}
	attrs := plan.Attributes{network.AttrVPCID: e.newID("vpc")}
	for _, tier := range t.Tiers {
		var ids []string
		for range t.SubnetsForTier(tier.Name) {
			ids = append(ids, e.newID("subnet"))
		}
		attrs[network.AttrSubnetsPrefix+tier.Name] = strings.Join(ids, ",")
	}
	for _, sg := range t.SecurityGroups {
		attrs[network.AttrSecurityGroupPrefix+sg.Role] = e.newID("sg")
	}
	e.topologies[n.ID] = t
	return attrs, nil
}

func (e *Engine) applyBastion(n *plan.Node, b *network.Bastion) (plan.Attributes, error) {
	if err := e.injected(n.ID); err != nil {
		return nil, err
	}
	topo, err := e.topologyOf(n)
	if err != nil {
		return nil, err
	}
	subnets := topo.SubnetsForTier(b.Tier)
	if len(subnets) == 0 {
		return nil, fmt.Errorf("bastion tier %s has no subnets", b.Tier)
	}
	_, block, err := net.ParseCIDR(subnets[0].CIDR)
	if err != nil {
		return nil, err
	}
	// The first four addresses of every subnet are reserved.
	ip, err := cidr.Host(block, 4+e.seq%8)
	if err != nil {
		return nil, err
	}

	attrs := plan.Attributes{
		network.AttrInstanceID: e.newID("i"),
		network.AttrPrivateIP:  ip.String(),
	}
	keyPairID := e.newID("key")
	attrs[network.AttrKeyPairID] = keyPairID
	if b.GenerateKey {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		block, err := ssh.MarshalPrivateKey(priv, b.KeyName)
		if err != nil {
			return nil, err
		}
		e.parameters[network.KeyPairParameterPrefix+keyPairID] = string(pem.EncodeToMemory(block))
	}
	return attrs, nil
}

func (e *Engine) topologyOf(n *plan.Node) (*network.Topology, error) {
	for _, id := range n.References() {
		if t, ok := e.topologies[id]; ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: network for %s", ErrDependencyNotReady, n.ID)
}

func (e *Engine) applyCredential(n *plan.Node, c *credentials.Credential) (plan.Attributes, error) {
	if err := e.injected(n.ID); err != nil {
		return nil, err
	}
	password, err := credentials.GeneratePassword(c.Policy)
	if err != nil {
		return nil, err
	}
	value, err := c.SecretString(password)
	if err != nil {
		return nil, err
	}
	arn, err := e.secrets.Create(c.Name, value)
	if err != nil {
		return nil, err
	}
	return plan.Attributes{
		credentials.AttrName:     c.Name,
		credentials.AttrARN:      arn,
		credentials.AttrUsername: c.Template[credentials.UsernameKey],
		credentials.AttrPassword: password,
	}, nil
}

func (e *Engine) applyCluster(n *plan.Node, c *database.Cluster) (plan.Attributes, error) {
	lc := database.NewLifecycle()
	e.clusters[n.ID] = lc
	if err := lc.Transition(database.StateProvisioning); err != nil {
		return nil, err
	}

	if err := e.injected(n.ID); err != nil {
		// Recorded as created so rollback moves the cluster from provisioning
		// straight to destroyed.
		e.attrs[n.ID] = plan.Attributes{}
		e.created = append(e.created, n.ID)
		return nil, err
	}

	var cred plan.Attributes
	for _, id := range n.References() {
		if a, ok := e.attrs[id]; ok && a[credentials.AttrPassword] != "" {
			cred = a
		}
	}
	if cred == nil {
		e.attrs[n.ID] = plan.Attributes{}
		e.created = append(e.created, n.ID)
		return nil, fmt.Errorf("%w: credential for %s", ErrDependencyNotReady, c.Name)
	}

	suffix := e.newID("cluster")
	host := fmt.Sprintf("%s.%s.%s.rds.amazonaws.com", c.Name, suffix, e.env.Region)
	if err := lc.Transition(database.StateAvailable); err != nil {
		return nil, err
	}
	return plan.Attributes{
		database.AttrHost:           host,
		database.AttrReaderEndpoint: strings.Replace(host, c.Name+".", c.Name+"-ro.", 1),
		database.AttrPort:           strconv.Itoa(c.Port),
		database.AttrDBName:         c.DatabaseName,
		database.AttrUsername:       cred[credentials.AttrUsername],
		database.AttrPassword:       cred[credentials.AttrPassword],
		database.AttrARN:            fmt.Sprintf("arn:aws:rds:%s:%s:cluster:%s", e.env.Region, e.env.Account, c.Name),
	}, nil
}

func (e *Engine) applyConnectionSecret(n *plan.Node, s *credentials.ConnectionSecret) (plan.Attributes, error) {
	if err := e.injected(n.ID); err != nil {
		return nil, err
	}
	if st := e.ClusterState(s.Source); st != database.StateAvailable {
		return nil, fmt.Errorf("%w: %s is %s", ErrDependencyNotReady, s.Source, st)
	}
	a, err := credentials.ResolveConnection(e, s.Refs)
	if err != nil {
		return nil, err
	}
	value, err := credentials.ConnectionString(a)
	if err != nil {
		return nil, err
	}
	arn, err := e.secrets.Create(s.Name, value)
	if err != nil {
		return nil, err
	}
	return plan.Attributes{
		credentials.AttrName: s.Name,
		credentials.AttrARN:  arn,
	}, nil
}

func (e *Engine) applyService(n *plan.Node, s *compute.Service) (plan.Attributes, error) {
	for _, secretName := range s.SecretEnv {
		if !e.secrets.Exists(secretName) {
			return nil, fmt.Errorf("%w: %s", ErrSecretMissing, secretName)
		}
	}
	if err := e.injected(n.ID); err != nil {
		return nil, err
	}
	id := e.newID("svc")
	return plan.Attributes{
		compute.AttrServiceID: id,
		compute.AttrURL:       fmt.Sprintf("%s.%s.awsapprunner.com", id[len(id)-10:], e.env.Region),
		compute.AttrARN:       fmt.Sprintf("arn:aws:apprunner:%s:%s:service/%s/%s", e.env.Region, e.env.Account, s.Name, id),
	}, nil
}

// rollback removes everything created since mark, newest first.
func (e *Engine) rollback(ctx context.Context, mark int) {
	_, span := e.tracer.Start(ctx, "engine.rollback", trace.WithAttributes(
		attribute.Int("nodes", len(e.created)-mark),
	))
	defer span.End()
	for i := len(e.created) - 1; i >= mark; i-- {
		id := e.created[i]
		e.remove(id)
		logging.Log(ctx, e.logger, zapcore.InfoLevel, "rolled back", zap.String("node", string(id)))
	}
	e.created = e.created[:mark]
}

func (e *Engine) remove(id plan.ID) {
	attrs := e.attrs[id]
	if name := attrs[credentials.AttrName]; name != "" {
		e.secrets.Delete(name)
	}
	if key := attrs[network.AttrKeyPairID]; key != "" {
		delete(e.parameters, network.KeyPairParameterPrefix+key)
	}
	if lc, ok := e.clusters[id]; ok {
		_ = lc.Transition(database.StateDestroyed)
	}
	delete(e.topologies, id)
	delete(e.attrs, id)
}

// Destroy tears p down in reverse order, honouring each cluster's removal
// policy.
func (e *Engine) Destroy(ctx context.Context, p *plan.Plan) (*Teardown, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Destroy", trace.WithAttributes(attribute.String("plan", p.Name)))
	defer span.End()
	order, err := p.Graph.ReverseOrder()
	if err != nil {
		return nil, err
	}
	td := &Teardown{}
	for _, n := range order {
		if _, ok := e.attrs[n.ID]; !ok {
			continue
		}
		if c, ok := n.Spec.(*database.Cluster); ok {
			switch c.RemovalPolicy {
			case database.RemovalRetain:
				td.Retained = append(td.Retained, n.ID)
				delete(e.attrs, n.ID)
				continue
			case database.RemovalSnapshot:
				td.Snapshots = append(td.Snapshots, c.Name+"-final-snapshot")
			}
		}
		e.remove(n.ID)
		td.Destroyed = append(td.Destroyed, n.ID)
	}
	kept := e.created[:0]
	for _, id := range e.created {
		if _, ok := e.attrs[id]; ok {
			kept = append(kept, id)
		}
	}
	e.created = kept
	logging.Log(ctx, e.logger, zapcore.InfoLevel, "plan destroyed",
		zap.String("plan", p.Name), zap.Int("destroyed", len(td.Destroyed)), zap.Int("retained", len(td.Retained)))
	return td, nil
}
