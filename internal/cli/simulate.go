package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sampleapp-dev/sampleinfra/internal/cli/common"
	"github.com/sampleapp-dev/sampleinfra/internal/database"
	"github.com/sampleapp-dev/sampleinfra/internal/engine"
	"github.com/sampleapp-dev/sampleinfra/internal/logging"
	"github.com/sampleapp-dev/sampleinfra/internal/plan"
	"github.com/sampleapp-dev/sampleinfra/pkg/printer"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var errSimulated = errors.New("simulated provisioning failure")

var (
	simulateFail         []string
	simulateDestroy      bool
	simulateOutputFormat string
	simulateTrace        bool
)

var SimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Apply the plan against an in-memory engine",
	Long: `Applies the plan node by node against an in-memory engine that behaves like the
real one: dependencies must be provisioned first, the database passes through its
lifecycle and any failure rolls back everything created so far.`,
	Example: `  infractl simulate --account 123456789012
  infractl simulate --account 123456789012 --fail compute/service
  infractl simulate --account 123456789012 --destroy -o json
  infractl simulate --account 123456789012 --trace`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	SimulateCmd.Flags().StringSliceVar(&simulateFail, "fail", nil, "node ids that fail while being provisioned")
	SimulateCmd.Flags().BoolVar(&simulateDestroy, "destroy", false, "destroy the deployment after a successful apply")
	SimulateCmd.Flags().StringVarP(&simulateOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	SimulateCmd.Flags().BoolVar(&simulateTrace, "trace", false, "record the engine's spans and print them")
}

type simulation struct {
	Applied        []plan.ID         `json:"applied" yaml:"applied"`
	Outputs        map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	ClusterHistory []database.State  `json:"clusterHistory" yaml:"clusterHistory"`
	Secrets        []string          `json:"secrets" yaml:"secrets"`
	Error          string            `json:"error,omitempty" yaml:"error,omitempty"`
	Destroyed      []plan.ID         `json:"destroyed,omitempty" yaml:"destroyed,omitempty"`
	Retained       []plan.ID         `json:"retained,omitempty" yaml:"retained,omitempty"`
	Snapshots      []string          `json:"snapshots,omitempty" yaml:"snapshots,omitempty"`
	Spans          []spanSummary     `json:"spans,omitempty" yaml:"spans,omitempty"`
}

type spanSummary struct {
	Name     string `json:"name" yaml:"name"`
	Node     string `json:"node,omitempty" yaml:"node,omitempty"`
	Duration string `json:"duration" yaml:"duration"`
	Status   string `json:"status" yaml:"status"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// spanCollector is a span exporter that keeps finished spans in memory.
type spanCollector struct {
	mu    sync.Mutex
	spans []sdktrace.ReadOnlySpan
}

func (c *spanCollector) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, spans...)
	return nil
}

func (c *spanCollector) Shutdown(context.Context) error { return nil }

// summaries returns the collected spans in start order.
func (c *spanCollector) summaries() []spanSummary {
	c.mu.Lock()
	spans := append([]sdktrace.ReadOnlySpan(nil), c.spans...)
	c.mu.Unlock()
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].StartTime().Before(spans[j].StartTime()) })

	out := make([]spanSummary, 0, len(spans))
	for _, s := range spans {
		sum := spanSummary{
			Name:     s.Name(),
			Duration: s.EndTime().Sub(s.StartTime()).Round(time.Microsecond).String(),
			Status:   s.Status().Code.String(),
			Error:    s.Status().Description,
		}
		for _, kv := range s.Attributes() {
			if kv.Key == "node" {
				sum.Node = kv.Value.AsString()
			}
		}
		out = append(out, sum)
	}
	return out
}

func runSimulate(cmd *cobra.Command, args []string) error {
	format, err := printer.ParseOutputType(simulateOutputFormat)
	if err != nil {
		return err
	}
	ctx := logging.SetRunID(cmd.Context(), logging.NewRunID())
	res, err := common.BuildPlan(ctx)
	if err != nil {
		return err
	}

	opts := []engine.Option{engine.WithLogger(logging.EngineLog)}
	for _, id := range simulateFail {
		if _, ok := res.Plan.Graph.Node(plan.ID(id)); !ok {
			return fmt.Errorf("--fail: %w: %s", plan.ErrUnknownNode, id)
		}
		opts = append(opts, engine.WithFailure(plan.ID(id), errSimulated))
	}

	var spans *spanCollector
	if simulateTrace {
		spans = &spanCollector{}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
		defer func() { _ = tp.Shutdown(ctx) }()
		opts = append(opts, engine.WithTracerProvider(tp))
	}

	eng := engine.New(res.Plan.Environment, opts...)
	dep, applyErr := eng.Apply(ctx, res.Plan)

	sim := simulation{}
	if applyErr != nil {
		sim.Error = applyErr.Error()
	} else {
		sim.Applied = dep.Applied
		sim.Outputs = dep.Outputs
		if simulateDestroy {
			td, err := eng.Destroy(ctx, res.Plan)
			if err != nil {
				return err
			}
			sim.Destroyed, sim.Retained, sim.Snapshots = td.Destroyed, td.Retained, td.Snapshots
		}
	}
	sim.ClusterHistory = eng.ClusterHistory(database.NodeID)
	sim.Secrets = eng.Secrets().Names()
	if spans != nil {
		sim.Spans = spans.summaries()
	}

	if err := printSimulation(cmd, format, &sim); err != nil {
		return err
	}
	return applyErr
}

func printSimulation(cmd *cobra.Command, format printer.OutputType, sim *simulation) error {
	out := cmd.OutOrStdout()
	if format != printer.OutputTypeTable {
		return printer.NewWithWriter(out, format).Print(sim)
	}

	if sim.Error != "" {
		printer.Error(out, sim.Error)
		printer.Warning(out, "everything created by this run was rolled back")
	} else {
		t := printer.NewTablePrinter(out)
		t.SetHeaders("#", "Applied")
		for i, id := range sim.Applied {
			t.AddRow(fmt.Sprint(i+1), string(id))
		}
		if err := t.Render(); err != nil {
			return err
		}
		if len(sim.Outputs) > 0 {
			o := printer.NewTablePrinter(out)
			o.SetHeaders("Output", "Value")
			for _, name := range []string{"ServiceURL", "ServiceARN", "GetSSHKeyCommand"} {
				if v, ok := sim.Outputs[name]; ok {
					o.AddRow(name, v)
				}
			}
			if err := o.Render(); err != nil {
				return err
			}
		}
	}

	history := make([]string, 0, len(sim.ClusterHistory))
	for _, s := range sim.ClusterHistory {
		history = append(history, string(s))
	}
	printer.Info(out, "database: "+strings.Join(history, " -> "))
	printer.Info(out, fmt.Sprintf("secrets: %d %v", len(sim.Secrets), sim.Secrets))
	if len(sim.Destroyed)+len(sim.Retained) > 0 {
		printer.Info(out, fmt.Sprintf("destroyed %d, retained %v, snapshots %v", len(sim.Destroyed), sim.Retained, sim.Snapshots))
	}
	if len(sim.Spans) > 0 {
		t := printer.NewTablePrinter(out)
		t.SetHeaders("Span", "Node", "Duration", "Status")
		for _, s := range sim.Spans {
			t.AddRow(s.Name, s.Node, s.Duration, s.Status)
		}
		if err := t.Render(); err != nil {
			return err
		}
	}
	if sim.Error == "" {
		printer.Success(out, "simulation complete")
	}
	return nil
}
