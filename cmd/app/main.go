package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/schable/internal"
	pkgconfig "github.com/starford/schable/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func render(ctx context.Context, cmd *cli.Command) error {
	locator := cmd.Args().First()
	if locator == "" {
		return errors.New("render: a locator argument is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Render(ctx, os.Stdout, internal.RenderRequest{
		Locator:  locator,
		UseRelay: cmd.Bool("relay"),
		MaxDepth: int(cmd.Int("max-depth")),
		Format:   cmd.String("format"),
	}, internal.WithConfig(cfg), internal.WithLogWriter(os.Stderr))
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg), internal.WithLogWriter(os.Stderr))
}

func main() {
	cmd := &cli.Command{
		Name:   "schable",
		Usage:  "Flatten JSON Schemas into annotated property tables, with a local schema catalog",
		Action: serve,
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
				Usage:  "Run the HTTP API, catalog watcher and event stream",
				Action: serve,
			},
			{
				Name:      "render",
				Usage:     "Flatten one schema and print its rows",
				ArgsUsage: "<url | catalog path>[#fragment]",
				Action:    render,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "relay",
						Usage: "Fetch remote documents through the relay",
					},
					&cli.IntFlag{
						Name:  "max-depth",
						Usage: "Recursion bound (1-64); defaults to render.max_depth",
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format: json or text",
						Value: "json",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdin/stdout",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
