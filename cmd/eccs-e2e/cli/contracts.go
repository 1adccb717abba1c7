package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/majorcontext/eccs-e2e/internal/eccs"
)

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "List the eccs command-line contracts",
	Long: `Lists the eccs releases eccs-e2e can drive, which subcommands each
supports and how the admin authenticates. Steps needing an unsupported
subcommand are reported as skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOut {
			return writeContractsJSON(cmd.OutOrStdout(), eccs.Contracts())
		}
		return printContracts(cmd.OutOrStdout(), eccs.Contracts())
	},
}

func init() {
	rootCmd.AddCommand(contractsCmd)
}

type contractInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Token       bool      `json:"token"`
	Scopes      string    `json:"scopes"`
	Supported   []eccs.Op `json:"supported"`
	Unsupported []eccs.Op `json:"unsupported,omitempty"`
}

func describeContract(c eccs.Contract) contractInfo {
	info := contractInfo{
		Name:        c.Name(),
		Description: c.Description(),
		Token:       c.UsesToken(),
		Scopes:      c.Scopes(),
	}
	for _, op := range eccs.AllOps() {
		if c.Supports(op) {
			info.Supported = append(info.Supported, op)
		} else {
			info.Unsupported = append(info.Unsupported, op)
		}
	}
	return info
}

func printContracts(w io.Writer, contracts []eccs.Contract) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTRACT\tAUTH\tSCOPES\tOPS\tDESCRIPTION")
	for _, c := range contracts {
		info := describeContract(c)
		auth := "password"
		if info.Token {
			auth = "token"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			info.Name, auth, info.Scopes, len(info.Supported), len(eccs.AllOps()), info.Description)
	}
	return tw.Flush()
}

func writeContractsJSON(w io.Writer, contracts []eccs.Contract) error {
	infos := make([]contractInfo, 0, len(contracts))
	for _, c := range contracts {
		infos = append(infos, describeContract(c))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(infos)
}
