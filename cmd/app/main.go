package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ansuz/internal"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func options(cmd *cli.Command) ([]internal.Option, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func resolve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	req := internal.ResolveRequest{
		Paths:     append(cmd.StringSlice("path"), cmd.Args().Slice()...),
		Glob:      cmd.String("glob"),
		Annotated: cmd.Bool("annotated"),
		Explain:   cmd.Bool("explain"),
	}
	if len(req.Paths) == 0 && req.Glob == "" {
		return fmt.Errorf("resolve: give at least one --path or --glob")
	}
	return internal.Resolve(ctx, req, opts...)
}

func syncRules(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.Sync(ctx, opts...)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "ansuz",
		Usage:   "Rule-based annotation resolver for file-index records",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (default)",
				Action: serve,
			},
			{
				Name:      "resolve",
				Usage:     "Print the annotations that apply to records, one JSON line each",
				ArgsUsage: "[path...]",
				Action:    resolve,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "path", Aliases: []string{"p"}, Usage: "Record path (repeatable)"},
					&cli.StringFlag{Name: "glob", Aliases: []string{"g"}, Usage: "Resolve every record matching a ** glob under files.root"},
					&cli.BoolFlag{Name: "annotated", Usage: "Print the record fields overlaid with annotations"},
					&cli.BoolFlag{Name: "explain", Usage: "Include applied rule ids, skipped rules and the store filter"},
				},
			},
			{
				Name:   "sync",
				Usage:  "Load the rules directory into the store once",
				Action: syncRules,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
