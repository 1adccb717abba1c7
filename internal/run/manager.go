// Package run drives the end-to-end scenario against every configured
// target, optionally inside a freshly started server container, and
// records the outcome.
package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/eccs-e2e/internal/config"
	"github.com/majorcontext/eccs-e2e/internal/credential"
	"github.com/majorcontext/eccs-e2e/internal/eccs"
	"github.com/majorcontext/eccs-e2e/internal/history"
	"github.com/majorcontext/eccs-e2e/internal/id"
	"github.com/majorcontext/eccs-e2e/internal/log"
	"github.com/majorcontext/eccs-e2e/internal/scenario"
	"github.com/majorcontext/eccs-e2e/internal/server"
	"github.com/majorcontext/eccs-e2e/internal/ui"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Config *config.Config
	// History records every target run; nil disables recording.
	History *history.Store
	// Credentials supplies the admin when the environment does not; nil
	// disables the fallback.
	Credentials credential.Store
	// Out receives the step lines. Defaults to os.Stdout.
	Out io.Writer
	// NewExecutor defaults to running the target binary as a process.
	NewExecutor func(t config.Target, timeout time.Duration) eccs.Executor
	// NewRuntime defaults to Docker. Only used when a server image is set.
	NewRuntime func() (server.Runtime, error)
	// Scenario defaults to scenario.Default().
	Scenario *scenario.Scenario
}

// Manager runs the scenario against targets.
type Manager struct {
	cfg         *config.Config
	history     *history.Store
	creds       credential.Store
	printer     *ui.Printer
	newExecutor func(config.Target, time.Duration) eccs.Executor
	newRuntime  func() (server.Runtime, error)
	scenario    *scenario.Scenario
}

// NewManager validates opts and fills in defaults.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("no configuration")
	}
	m := &Manager{
		cfg:         opts.Config,
		history:     opts.History,
		creds:       opts.Credentials,
		newExecutor: opts.NewExecutor,
		newRuntime:  opts.NewRuntime,
		scenario:    opts.Scenario,
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	m.printer = ui.NewPrinter(out)
	if m.newExecutor == nil {
		m.newExecutor = func(t config.Target, timeout time.Duration) eccs.Executor {
			return &eccs.ProcessExecutor{Binary: t.Binary, Timeout: timeout}
		}
	}
	if m.newRuntime == nil {
		m.newRuntime = func() (server.Runtime, error) { return server.NewDockerRuntime() }
	}
	if m.scenario == nil {
		m.scenario = scenario.Default()
	}
	return m, nil
}

// Options selects what one invocation of Run does.
type Options struct {
	// Parallel is how many targets run at once; 0 or 1 runs them in order.
	Parallel int
	// ServerImage overrides the configured server image.
	ServerImage string
	// Targets restricts the run to the named targets; empty runs all.
	Targets []string
}

// Summary is the outcome of Run.
type Summary struct {
	Runs []history.Run
	// Server is the address of the container started for the run, if any.
	Server string
}

// Passed reports whether every target passed.
func (s *Summary) Passed() bool {
	for _, r := range s.Runs {
		if r.Status != scenario.StatusPassed {
			return false
		}
	}
	return len(s.Runs) > 0
}

// Failed returns the runs that did not pass.
func (s *Summary) Failed() []history.Run {
	var out []history.Run
	for _, r := range s.Runs {
		if r.Status != scenario.StatusPassed {
			out = append(out, r)
		}
	}
	return out
}

// Run executes the scenario once per selected target. Target failures are
// reported in the Summary; the error is reserved for problems that stop
// every target, such as a server that fails to start.
func (m *Manager) Run(ctx context.Context, opts Options) (*Summary, error) {
	targets, err := m.selectTargets(opts.Targets)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	endpoint := m.cfg.Endpoint

	image := opts.ServerImage
	if image == "" {
		image = m.cfg.Server.Image
	}
	if image != "" {
		rt, err := m.newRuntime()
		if err != nil {
			return nil, fmt.Errorf("connecting to container runtime: %w", err)
		}
		defer rt.Close()
		srv, err := m.startServer(ctx, rt, image)
		if err != nil {
			return nil, fmt.Errorf("starting server: %w", err)
		}
		defer func() {
			if err := srv.Stop(context.WithoutCancel(ctx)); err != nil {
				log.Warn("removing server container", "error", err)
			}
		}()
		endpoint = srv.Address()
		summary.Server = endpoint
	}

	// Stored credentials are keyed by the configured endpoint, not the
	// ephemeral container address.
	admin, adminErr := ResolveAdmin(ctx, m.cfg.Admin, m.creds, m.cfg.Endpoint)

	summary.Runs = make([]history.Run, len(targets))
	prefix := len(targets) > 1

	var g errgroup.Group
	if opts.Parallel > 1 {
		g.SetLimit(opts.Parallel)
	} else {
		g.SetLimit(1)
	}
	for i, t := range targets {
		g.Go(func() error {
			summary.Runs[i] = m.runTarget(ctx, t, endpoint, admin, adminErr, prefix)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Passed() {
		m.printer.Succeeded()
	}
	return summary, nil
}

func (m *Manager) selectTargets(names []string) ([]config.Target, error) {
	if len(names) == 0 {
		return m.cfg.Targets, nil
	}
	var out []config.Target
	for _, n := range names {
		i := slices.IndexFunc(m.cfg.Targets, func(t config.Target) bool { return t.Name == n })
		if i < 0 {
			known := make([]string, len(m.cfg.Targets))
			for j, t := range m.cfg.Targets {
				known[j] = t.Name
			}
			return nil, fmt.Errorf("unknown target %q; configured targets: %s", n, strings.Join(known, ", "))
		}
		out = append(out, m.cfg.Targets[i])
	}
	return out, nil
}

func (m *Manager) startServer(ctx context.Context, rt server.Runtime, image string) (*server.Server, error) {
	srvCfg := m.cfg.Server
	return server.Start(ctx, rt, server.Config{
		Image:        image,
		Port:         srvCfg.Port,
		Env:          srvCfg.Env,
		ReadyTimeout: srvCfg.ReadyTimeout,
		RunID:        id.Generate("srv"),
	}, log.With("component", "server"))
}

func (m *Manager) runTarget(ctx context.Context, t config.Target, endpoint string, admin config.Admin, adminErr error, prefix bool) history.Run {
	run := history.Run{
		ID:       id.Generate("run"),
		Target:   t.Name,
		Contract: t.Contract,
		Binary:   t.Binary,
		Endpoint: endpoint,
		Started:  time.Now(),
	}
	logger := log.ForRun(run.ID, t.Name)
	label := ""
	if prefix {
		label = t.Name
	}

	rep, err := m.execute(ctx, t, endpoint, admin, adminErr, logger, label)
	run.FromReport(rep, err)
	if rep == nil && err != nil {
		m.printer.Fail(label, err.Error())
	}

	logger.Info("target finished", "status", run.Status, "passed", run.Passed, "failed", run.Failed, "skipped", run.Skipped)
	if m.history != nil {
		if err := m.history.Record(run); err != nil {
			logger.Warn("recording run history", "error", err)
		}
	}
	return run
}

func (m *Manager) execute(ctx context.Context, t config.Target, endpoint string, admin config.Admin, adminErr error, logger *slog.Logger, label string) (*scenario.Report, error) {
	if adminErr != nil {
		return nil, adminErr
	}
	contract, err := eccs.Lookup(t.Contract)
	if err != nil {
		return nil, err
	}
	if err := admin.Require(contract.UsesToken()); err != nil {
		return nil, err
	}

	client := eccs.NewClient(m.newExecutor(t, m.cfg.Timeout), contract, m.cfg.EndpointFor(endpoint), logger)
	auth := eccs.Auth{UserID: admin.UserID, Password: admin.Password, Token: admin.Token}

	logger.Info("target started", "binary", t.Binary, "contract", contract.Name(), "endpoint", endpoint)
	return m.scenario.Run(ctx, client, auth, m.reporter(label))
}

func (m *Manager) reporter(label string) scenario.Reporter {
	return scenario.ReporterFunc(func(r scenario.StepResult) {
		msg := r.Name
		if r.Detail != "" {
			msg += ": " + r.Detail
		}
		switch r.Status {
		case scenario.StatusPassed:
			m.printer.Pass(label, msg)
		case scenario.StatusSkipped:
			m.printer.Skip(label, msg)
		default:
			m.printer.Fail(label, msg)
		}
	})
}
