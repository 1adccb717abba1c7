package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/majorcontext/eccs-e2e/internal/config"
	"github.com/majorcontext/eccs-e2e/internal/credential"
	"github.com/majorcontext/eccs-e2e/internal/eccs"
	"github.com/majorcontext/eccs-e2e/internal/history"
	"github.com/majorcontext/eccs-e2e/internal/scenario"
	"github.com/majorcontext/eccs-e2e/internal/secrets"
	"github.com/majorcontext/eccs-e2e/internal/ui"
)

// checkTimeout bounds each network check.
const checkTimeout = 5 * time.Second

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// Redact describes a secret without revealing it: "(not set)", the scheme
// of a secret reference, or the value's length.
func Redact(value string) string {
	switch {
	case value == "":
		return ui.Dim("(not set)")
	case secrets.IsReference(value):
		scheme, _, _ := strings.Cut(value, "://")
		return scheme + ":// reference"
	default:
		return fmt.Sprintf("set (%d chars)", len(value))
	}
}

// VersionSection shows the build and platform.
type VersionSection struct {
	Version string
}

func (s *VersionSection) Name() string { return "Version" }

func (s *VersionSection) Print(w io.Writer) error {
	tw := newTabWriter(w)
	fmt.Fprintf(tw, "eccs-e2e:\t%s\n", s.Version)
	fmt.Fprintf(tw, "Platform:\t%s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(tw, "Go:\t%s\n", runtime.Version())
	return tw.Flush()
}

// ConfigSection shows the effective configuration with secrets redacted.
type ConfigSection struct {
	Dir    string
	Config *config.Config
}

func (s *ConfigSection) Name() string { return "Configuration" }

func (s *ConfigSection) Print(w io.Writer) error {
	c := s.Config
	tw := newTabWriter(w)
	fmt.Fprintf(tw, "Directory:\t%s\n", s.Dir)
	path := config.Path(s.Dir)
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(tw, "Config file:\t%s\n", path)
	} else {
		fmt.Fprintf(tw, "Config file:\t%s\n", ui.Dim("(none, using defaults)"))
	}
	fmt.Fprintf(tw, "Endpoint:\t%s\n", c.Endpoint)
	fmt.Fprintf(tw, "Timeout:\t%s\n", c.Timeout)
	if c.CertSet {
		fmt.Fprintf(tw, "%s:\t%s\n", config.EnvCert, Redact(c.Cert))
	}
	if c.CertPath != "" {
		fmt.Fprintf(tw, "Certificate:\t%s\n", c.CertPath)
	}
	fmt.Fprintf(tw, "%s:\t%s\n", config.EnvAdminUID, valueOrUnset(c.Admin.UserID))
	fmt.Fprintf(tw, "%s:\t%s\n", config.EnvAdminPass, Redact(c.Admin.Password))
	fmt.Fprintf(tw, "%s:\t%s\n", config.EnvAdminToken, Redact(c.Admin.Token))
	if c.Server.Image != "" {
		fmt.Fprintf(tw, "Server image:\t%s (port %d)\n", c.Server.Image, c.Server.Port)
	}
	return tw.Flush()
}

func valueOrUnset(v string) string {
	if v == "" {
		return ui.Dim("(not set)")
	}
	return v
}

// TargetsSection checks that every target binary can be found.
type TargetsSection struct {
	Targets []config.Target
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

func (s *TargetsSection) Name() string { return "Targets" }

func (s *TargetsSection) Print(w io.Writer) error {
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	tw := newTabWriter(w)
	missing := 0
	for _, t := range s.Targets {
		contract, err := eccs.Lookup(t.Contract)
		if err != nil {
			fmt.Fprintf(tw, "%s\t%s\t%s %v\n", t.Name, t.Binary, ui.FailTag(), err)
			missing++
			continue
		}
		ops := 0
		for _, op := range eccs.AllOps() {
			if contract.Supports(op) {
				ops++
			}
		}
		if path, err := lookPath(t.Binary); err != nil {
			fmt.Fprintf(tw, "%s\t%s\t%s not found\n", t.Name, t.Binary, ui.FailTag())
			missing++
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%s %s, contract %s (%d/%d ops)\n",
				t.Name, t.Binary, ui.OKTag(), path, contract.Name(), ops, len(eccs.AllOps()))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d targets unusable", missing, len(s.Targets))
	}
	return nil
}

// EndpointSection checks that the server accepts TCP connections.
type EndpointSection struct {
	Address string
	// Dial defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

func (s *EndpointSection) Name() string { return "Endpoint" }

func (s *EndpointSection) Print(w io.Writer) error {
	dial := s.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	start := time.Now()
	conn, err := dial(ctx, "tcp", s.Address)
	if err != nil {
		fmt.Fprintf(w, "%s %s unreachable: %v\n", ui.FailTag(), s.Address, err)
		return nil
	}
	conn.Close()
	fmt.Fprintf(w, "%s %s reachable (%s)\n", ui.OKTag(), s.Address, time.Since(start).Round(time.Millisecond))
	return nil
}

// AdminSection shows where admin credentials will come from.
type AdminSection struct {
	Endpoint string
	Admin    config.Admin
	// Store may be nil when the credential store cannot be opened.
	Store credential.Store
	// KeyLocation names where the store key lives.
	KeyLocation string
}

func (s *AdminSection) Name() string { return "Admin Credentials" }

func (s *AdminSection) Print(w io.Writer) error {
	tw := newTabWriter(w)
	switch {
	case s.Admin.UserID != "" && s.Admin.Password != "":
		fmt.Fprintf(tw, "Source:\tenvironment (%s)\n", s.Admin.UserID)
		if !secrets.IsReference(s.Admin.Password) {
			fmt.Fprintf(tw, "Password:\t%s plain text, consider an op://, ssm:// or awssm:// reference\n", ui.WarnTag())
		}
	case s.Admin.Token != "":
		fmt.Fprintf(tw, "Source:\tenvironment (%s only)\n", config.EnvAdminToken)
	}

	if s.Store != nil {
		cred, err := s.Store.Get(s.Endpoint)
		switch {
		case err == nil:
			fmt.Fprintf(tw, "Stored:\t%s %s (saved %s)\n", ui.OKTag(), cred.UserID, cred.CreatedAt.Format(time.DateOnly))
		case errors.Is(err, credential.ErrNotFound):
			fmt.Fprintf(tw, "Stored:\t%s\n", ui.Dim("none for "+s.Endpoint))
		default:
			fmt.Fprintf(tw, "Stored:\t%s %v\n", ui.FailTag(), err)
		}
	}
	if s.KeyLocation != "" {
		fmt.Fprintf(tw, "Key:\t%s\n", s.KeyLocation)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if s.Admin.UserID == "" && s.Admin.Token == "" && s.Store == nil {
		return fmt.Errorf("no admin credentials: set %s and %s or run `eccs-e2e login`", config.EnvAdminUID, config.EnvAdminPass)
	}
	return nil
}

// HistorySection lists the most recent runs.
type HistorySection struct {
	Store *history.Store
	Limit int
}

func (s *HistorySection) Name() string { return "Recent Runs" }

func (s *HistorySection) Print(w io.Writer) error {
	if s.Store == nil {
		fmt.Fprintln(w, "No history database")
		return nil
	}
	limit := s.Limit
	if limit <= 0 {
		limit = 5
	}
	runs, err := s.Store.List(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	tw := newTabWriter(w)
	for _, r := range runs {
		mark := ui.OKTag()
		if r.Status != scenario.StatusPassed {
			mark = ui.FailTag()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\n", r.ID, r.Target, mark, r.Status, r.Started.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
