package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"apiforge/internal/docs"
)

var routesJSON bool

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List registered endpoints and coverage",
	Long: `List every registered endpoint with its version, authentication and
validation settings, followed by the route analysis report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := offlineApp()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		report := docs.Analyze(a.Registry())

		if routesJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "METHOD\tPATH\tVERSION\tAUTH\tVALIDATED\tSTAGES")
		for _, d := range a.Registry().All() {
			authText := "-"
			if d.AuthRequired {
				authText = "yes"
				if len(d.Roles) > 0 {
					authText = strings.Join(d.Roles, ",")
				}
			}
			validated := "-"
			if d.Validated() {
				validated = "yes"
			}
			ver := d.Version
			if ver == "" {
				ver = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Method, d.Path, ver, authText, validated, strings.Join(d.Middleware, ","))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(out, "\n📊 %d endpoints (%d secured, %d public, %d validated)\n",
			report.TotalEndpoints, report.SecuredCount, report.PublicCount, report.ValidatedCount)
		for _, rec := range report.Recommendations {
			fmt.Fprintf(out, "   • %s\n", rec)
		}
		return nil
	},
}

func init() {
	routesCmd.Flags().BoolVar(&routesJSON, "json", false, "print the analysis report as JSON")
}
