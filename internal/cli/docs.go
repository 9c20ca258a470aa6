package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"apiforge/internal/app"
	"apiforge/internal/config"
	"apiforge/internal/docs"
)

var (
	docsFormat string
	docsOut    string
	docsBundle string
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Generate API documentation",
	Long: `Generate documentation for every endpoint the configured manifest
produces. Formats: openapi, openapi-yaml, postman, markdown.

Without --out the document is written to stdout. --bundle writes every
format into one tar.gz archive instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := docs.ParseFormat(docsFormat)
		if err != nil {
			return err
		}

		a, err := offlineApp()
		if err != nil {
			return err
		}

		if docsBundle != "" {
			info, err := docs.Bundle(a.Registry(), docs.DefaultInfo, docsBundle)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s (%d bytes)\n", info.Path, info.SizeBytes)
			fmt.Fprintf(cmd.OutOrStdout(), "   sha256: %s\n", info.SHA256)
			return nil
		}

		if docsOut != "" {
			if err := docs.WriteFile(a.Registry(), format, docs.DefaultInfo, docsOut); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s documentation to %s\n", format, docsOut)
			return nil
		}

		out, err := docs.Generate(a.Registry(), format, docs.DefaultInfo)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	docsCmd.Flags().StringVarP(&docsFormat, "format", "f", string(docs.FormatOpenAPI), "output format")
	docsCmd.Flags().StringVarP(&docsOut, "out", "o", "", "output file")
	docsCmd.Flags().StringVar(&docsBundle, "bundle", "", "write every format to this tar.gz archive")
}

// offlineApp builds the application against in-memory storage. It is used
// by commands that only inspect the registry.
func offlineApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Database.Driver = config.DriverMemory

	log, err := newLogger(cfg, true)
	if err != nil {
		return nil, err
	}
	return app.New(context.Background(), cfg, app.WithLogger(log))
}
