package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/internal/ailink"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information. Use --extended to add build, Go and Crucible
versions and the configured generation services with their credential counts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		identity := GetAppIdentity()
		fmt.Fprintf(out, "%s %s\n", identity.BinaryName, versionInfo.Version)
		if !extended {
			return nil
		}

		fmt.Fprintf(out, "Commit: %s\nBuilt: %s\nGo: %s\n", versionInfo.Commit, versionInfo.BuildDate, runtime.Version())
		v := crucible.GetVersion()
		fmt.Fprintf(out, "Gofulmen: %s\nCrucible: %s\n\n", v.Gofulmen, v.Crucible)

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			fmt.Fprintf(out, "Services: unavailable (%v)\n", err)
			return nil
		}
		fmt.Fprintln(out, "Services:")
		for _, line := range serviceSummary(cfg.AILink) {
			fmt.Fprintln(out, "  "+line)
		}
		return nil
	},
}

// serviceSummary describes each configured service without its secrets.
func serviceSummary(cfg ailink.Config) []string {
	ids := cfg.ServiceIDs()
	if len(ids) == 0 {
		return []string{"(none configured)"}
	}

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		svc := cfg.Services[id]
		models := "-"
		if len(svc.Models) > 0 {
			models = strings.Join(svc.Models, ",")
		}
		creds := fmt.Sprintf("%d credentials", len(svc.Credentials))
		if len(svc.Credentials) == 0 {
			creds = "no credentials, skipped"
		}
		lines = append(lines, fmt.Sprintf("%-8s %s/%s  models=%s  %s", id, svc.Provider, svc.ResolvedKind(), models, creds))
	}
	return lines
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show build details and configured services")
}
