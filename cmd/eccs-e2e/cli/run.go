package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/majorcontext/eccs-e2e/internal/config"
	"github.com/majorcontext/eccs-e2e/internal/credential"
	"github.com/majorcontext/eccs-e2e/internal/history"
	"github.com/majorcontext/eccs-e2e/internal/log"
	"github.com/majorcontext/eccs-e2e/internal/run"
	"github.com/majorcontext/eccs-e2e/internal/ui"
)

var runFlags struct {
	parallel    int
	serverImage string
	endpoint    string
	targets     []string
	adminUID    string
	adminPass   string
	adminToken  string
	noHistory   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the end-to-end scenario against every target",
	Long: `Runs the scenario against every configured target and prints one line
per step. Exits non-zero when any target fails.

The admin account comes from flags, then E2E_TEST_UID / E2E_TEST_PASS /
ECCS_TEST_ADMIN_AT, then the credentials saved with "eccs-e2e login" for
the endpoint. Passwords and tokens may be secret references
(op://, ssm://, awssm://).

With --server-image (or server.image in config.yaml) a server container is
started first and every target is pointed at it.

Examples:
  eccs-e2e run
  eccs-e2e run --target v4 --endpoint eccs.internal:9000
  eccs-e2e run --parallel 4 --server-image registry.example/eccs-server:latest`,
	Args: cobra.NoArgs,
	RunE: runE2E,
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.IntVarP(&runFlags.parallel, "parallel", "j", 1, "number of targets to run at once")
	f.StringVar(&runFlags.serverImage, "server-image", "", "start this server image for the run")
	f.StringVarP(&runFlags.endpoint, "endpoint", "e", "", "server endpoint (overrides "+config.EnvURL+")")
	f.StringSliceVarP(&runFlags.targets, "target", "t", nil, "only run the named targets")
	f.StringVar(&runFlags.adminUID, "admin-uid", "", "admin user ID (overrides "+config.EnvAdminUID+")")
	f.StringVar(&runFlags.adminPass, "admin-password", "", "admin password or secret reference (overrides "+config.EnvAdminPass+")")
	f.StringVar(&runFlags.adminToken, "admin-token", "", "admin access token or secret reference (overrides "+config.EnvAdminToken+")")
	f.BoolVar(&runFlags.noHistory, "no-history", false, "do not record this run")
}

func runE2E(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cfg)
	if runFlags.parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := run.ManagerOptions{Config: cfg, Out: cmd.OutOrStdout()}
	if jsonOut {
		opts.Out = io.Discard
	}

	if !runFlags.noHistory {
		if store := openRunHistory(dir); store != nil {
			defer store.Close()
			opts.History = store
		}
	}

	if needsStoredAdmin(cfg.Admin) {
		store, err := openCredentials(dir, false)
		switch {
		case err == nil:
			opts.Credentials = store
		case !errors.Is(err, credential.ErrNotFound):
			log.Debug("opening credential store", "error", err)
			ui.Warnf("stored credentials unavailable: %v", err)
		}
	}

	manager, err := run.NewManager(opts)
	if err != nil {
		return fmt.Errorf("creating run manager: %w", err)
	}
	summary, err := manager.Run(ctx, run.Options{
		Parallel:    runFlags.parallel,
		ServerImage: runFlags.serverImage,
		Targets:     runFlags.targets,
	})
	if err != nil && summary == nil {
		return err
	}

	if jsonOut {
		if encErr := writeRunsJSON(cmd.OutOrStdout(), summary.Runs); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return err
	}
	if failed := summary.Failed(); len(failed) > 0 {
		return reportFailures(failed, len(summary.Runs))
	}
	return nil
}

// openRunHistory opens the history store, or warns and returns nil so the
// run goes ahead unrecorded.
func openRunHistory(dir string) *history.Store {
	store, err := openHistory(dir)
	if err != nil {
		log.Debug("opening history store", "error", err)
		ui.Warnf("run history disabled: %v", err)
		return nil
	}
	return store
}

// reportFailures prints one error line per failed target and points at the
// debug log, which holds the step details.
func reportFailures(failed []history.Run, total int) error {
	for _, r := range failed {
		log.Error("target failed", "run_id", r.ID, "target", r.Target, "status", r.Status, "error", r.Error)
		if r.Error != "" {
			ui.Errorf("%s (%s): %s", r.Target, r.ID, r.Error)
		} else {
			ui.Errorf("%s (%s): %s", r.Target, r.ID, r.Status)
		}
	}
	if p := log.Path(); p != "" {
		ui.Infof("Debug log: %s", p)
	}
	return fmt.Errorf("%d of %d targets failed", len(failed), total)
}

func applyRunFlags(cfg *config.Config) {
	if runFlags.endpoint != "" {
		cfg.Endpoint = runFlags.endpoint
	}
	if runFlags.adminUID != "" {
		cfg.Admin.UserID = runFlags.adminUID
	}
	if runFlags.adminPass != "" {
		cfg.Admin.Password = runFlags.adminPass
	}
	if runFlags.adminToken != "" {
		cfg.Admin.Token = runFlags.adminToken
	}
}

func needsStoredAdmin(a config.Admin) bool {
	return a.Token == "" && (a.UserID == "" || a.Password == "")
}

func writeRunsJSON(w io.Writer, runs []history.Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}
