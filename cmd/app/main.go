package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/folio/internal"
	pkgconfig "github.com/starford/folio/pkg/config"
)

// loadConfig reads the config file named by --config, falling back to the
// defaults when it does not exist. --root overrides project.root.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if root := cmd.String("root"); root != "" {
		cfg.Project.Root = root
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func check(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	report, err := internal.Check(ctx, internal.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}

	out := cmd.Root().Writer
	if cmd.Bool("json") {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		for _, d := range report.Schema {
			fmt.Fprintf(out, "%s: %s: %s\n", cfg.Project.ConfigFile, d.Severity, d.Error())
		}
		for _, e := range report.Entries {
			for _, d := range e.Diagnostics {
				fmt.Fprintf(out, "%s: %s: %s\n", e.Path, d.Severity, d.Error())
			}
		}
		fmt.Fprintf(out, "%d entries checked, %d errors, %d warnings\n", report.Checked, report.Errors, report.Warnings)
	}

	if !report.OK() {
		return cli.Exit("", 1)
	}
	return nil
}

func schema(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	summary, err := internal.DescribeSchema(ctx, cmd.String("collection"), internal.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := writeJSON(cmd.Root().Writer, summary); err != nil {
		return err
	}
	if summary.Errors > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.ServeMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cmd := &cli.Command{
		Name:  "folio",
		Usage: "Schema-aware editing service for Markdown content collections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project root (overrides project.root)",
				Sources: cli.EnvVars("FOLIO_ROOT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, live events and file watcher",
				Action: serve,
			},
			{
				Name:  "check",
				Usage: "Validate every entry against its collection schema",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the report as JSON"},
				},
				Action: check,
			},
			{
				Name:  "schema",
				Usage: "Print the collections declared by the schema source as JSON Schema",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "collection", Usage: "Only describe this collection"},
				},
				Action: schema,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: mcp,
			},
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
