package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/eccs-e2e/internal/credential/keyring"
	"github.com/majorcontext/eccs-e2e/internal/doctor"
	"github.com/majorcontext/eccs-e2e/internal/log"
	"github.com/majorcontext/eccs-e2e/internal/server"
	"github.com/majorcontext/eccs-e2e/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnostic information about the eccs-e2e environment",
	Long: `Displays diagnostic information for debugging a failing setup.

This command shows:
- eccs-e2e version and configuration
- Target binaries and their contracts
- Server endpoint reachability
- Admin credentials (redacted)
- AWS identity, when secrets come from AWS
- Docker daemon status, when a server image is configured
- Recent runs

Passwords and tokens are never printed.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, ui.Bold("eccs-e2e Doctor"))
	fmt.Fprintln(out)

	admin := &doctor.AdminSection{
		Endpoint:    cfg.Endpoint,
		Admin:       cfg.Admin,
		KeyLocation: keyring.Location(dir),
	}
	if store, err := openCredentials(dir, false); err == nil {
		admin.Store = store
	}

	reg := doctor.NewRegistry()
	reg.Register(&doctor.VersionSection{Version: Version()})
	reg.Register(&doctor.ConfigSection{Dir: dir, Config: cfg})
	reg.Register(&doctor.TargetsSection{Targets: cfg.Targets})
	reg.Register(&doctor.EndpointSection{Address: cfg.Endpoint})
	reg.Register(admin)
	reg.Register(&doctor.AWSSection{Values: []string{cfg.Admin.Password, cfg.Admin.Token}})
	reg.Register(&doctor.DockerSection{Image: cfg.Server.Image, Connect: connectDocker})

	if store, err := openHistory(dir); err == nil {
		defer store.Close()
		reg.Register(&doctor.HistorySection{Store: store, Limit: 5})
	} else {
		log.Debug("history unavailable for doctor", "error", err)
	}

	if failed := reg.Run(out); failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func connectDocker() (doctor.DockerDaemon, func() error, error) {
	rt, err := server.NewDockerRuntime()
	if err != nil {
		return nil, nil, err
	}
	return rt, rt.Close, nil
}
