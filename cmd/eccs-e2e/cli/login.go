package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/eccs-e2e/internal/credential"
	"github.com/majorcontext/eccs-e2e/internal/credential/keyring"
	"github.com/majorcontext/eccs-e2e/internal/log"
	"github.com/majorcontext/eccs-e2e/internal/secrets"
)

var loginFlags struct {
	endpoint string
	uid      string
	token    bool
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save admin credentials for an endpoint",
	Long: `Prompts for the admin user ID and password and stores them encrypted,
keyed by endpoint. "eccs-e2e run" uses them when the environment does not
provide an admin.

The password may be typed or given as a secret reference such as
op://CI/eccs-admin/password; references are stored as-is and resolved on
every run.

Examples:
  eccs-e2e login
  eccs-e2e login --endpoint eccs.internal:9000 --uid admin
  echo "$PASS" | eccs-e2e login --uid admin`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutFlags struct {
	endpoint string
	all      bool
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove saved admin credentials",
	Long: `Removes the admin credentials saved for an endpoint. With --all every
saved credential and the encryption key are removed.`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
	loginCmd.Flags().StringVarP(&loginFlags.endpoint, "endpoint", "e", "", "server endpoint (default: configured endpoint)")
	loginCmd.Flags().StringVar(&loginFlags.uid, "uid", "", "admin user ID (prompted when empty)")
	loginCmd.Flags().BoolVar(&loginFlags.token, "token", false, "also prompt for an admin access token")

	logoutCmd.Flags().StringVarP(&logoutFlags.endpoint, "endpoint", "e", "", "server endpoint (default: configured endpoint)")
	logoutCmd.Flags().BoolVar(&logoutFlags.all, "all", false, "remove every saved credential and the encryption key")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	endpoint := loginFlags.endpoint
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}

	p := newPrompter(os.Stdin, cmd.ErrOrStderr())
	cred, err := promptCredential(p, endpoint, loginFlags.uid, loginFlags.token)
	if err != nil {
		return err
	}

	store, err := openCredentials(dir, true)
	if err != nil {
		return err
	}
	if err := store.Save(*cred); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	log.Info("admin credentials saved", "endpoint", cred.Endpoint, "uid", cred.UserID)
	fmt.Fprintf(cmd.OutOrStdout(), "Credentials for %s saved (key: %s)\n", cred.Endpoint, keyring.Location(dir))
	if secrets.IsReference(cred.Password) || secrets.IsReference(cred.Token) {
		fmt.Fprintln(cmd.OutOrStdout(), "Secret references are resolved at the start of every run")
	}
	return nil
}

func promptCredential(p *prompter, endpoint, uid string, withToken bool) (*credential.Credential, error) {
	var err error
	if uid == "" {
		if uid, err = p.Line("Admin user ID"); err != nil {
			return nil, err
		}
	}
	if uid == "" {
		return nil, fmt.Errorf("admin user ID must not be empty")
	}
	password, err := p.Secret("Password")
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("password must not be empty")
	}

	cred := &credential.Credential{
		Endpoint:  credential.NormalizeEndpoint(endpoint),
		UserID:    uid,
		Password:  password,
		CreatedAt: time.Now(),
	}
	if withToken {
		if cred.Token, err = p.Secret("Access token"); err != nil {
			return nil, err
		}
	}
	return cred, nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	store, err := openCredentials(dir, false)
	if err != nil {
		if !logoutFlags.all {
			return fmt.Errorf("no saved credentials")
		}
		store = nil
	}

	if logoutFlags.all {
		n := 0
		if store != nil {
			creds, err := store.List()
			if err != nil {
				return err
			}
			for _, c := range creds {
				if err := store.Delete(c.Endpoint); err != nil {
					return fmt.Errorf("deleting credentials for %s: %w", c.Endpoint, err)
				}
				n++
			}
		}
		if err := keyring.DeleteKey(dir); err != nil {
			return fmt.Errorf("deleting encryption key: %w", err)
		}
		log.Info("all admin credentials removed", "count", n)
		fmt.Fprintf(out, "Removed %d saved credential(s) and the encryption key\n", n)
		return nil
	}

	endpoint := logoutFlags.endpoint
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	if _, err := store.Get(endpoint); err != nil {
		return fmt.Errorf("no credentials saved for %s", credential.NormalizeEndpoint(endpoint))
	}
	if err := store.Delete(endpoint); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	log.Info("admin credentials removed", "endpoint", endpoint)
	fmt.Fprintf(out, "Credentials for %s removed\n", credential.NormalizeEndpoint(endpoint))
	return nil
}
