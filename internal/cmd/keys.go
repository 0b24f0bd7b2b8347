package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/keypool"
	"github.com/reelforge/reelforge/internal/output"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect configured credentials",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials per service with health and admission state",
	Long: `List every discovered credential per service. Secrets are masked.

Health counters reflect this process only; run against a live server with
GET /v1/credentials/stats for long-running state.`,
	RunE: runKeysList,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysListCmd)
	addOutputFlags(keysListCmd)
}

type keysReport struct {
	Services []keysService     `json:"services" yaml:"services"`
	Skipped  map[string]string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

type keysService struct {
	keypool.ServiceStats `yaml:",inline"`
	Admission            admission.Snapshot `json:"admission" yaml:"admission"`
}

func runKeysList(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	registry, err := buildRegistry(cfg, nil, nil)
	if err != nil {
		return err
	}

	stats := registry.Stats()
	snaps := registry.Admission()
	report := keysReport{Skipped: registry.Skipped()}
	for i, s := range stats {
		report.Services = append(report.Services, keysService{ServiceStats: s, Admission: snaps[i]})
	}

	rendered, err := output.Render(format, report, func() string {
		var b strings.Builder
		if len(stats) > 0 {
			b.WriteString(output.CredentialsTable(stats, snaps))
		}
		if len(report.Skipped) > 0 {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(ascii.DrawBox(skippedSummary(report.Skipped), 0))
		}
		return strings.TrimRight(b.String(), "\n")
	})
	if err != nil {
		return err
	}
	return writeOutput(cmd, format, "keys.list", rendered)
}

func skippedSummary(skipped map[string]string) string {
	ids := make([]string, 0, len(skipped))
	for id := range skipped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := []string{"Unavailable services", ""}
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("%s: %s", id, skipped[id]))
	}
	return strings.Join(lines, "\n")
}
