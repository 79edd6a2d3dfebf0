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

	"github.com/starford/linkgraph/internal"
	"github.com/starford/linkgraph/internal/export"
	pkgconfig "github.com/starford/linkgraph/pkg/config"
)

var version = "dev"

func loadOptions(cmd *cli.Command, extra ...internal.Option) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if cmd.IsSet("config") {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if _, err := pkgconfig.LoadIfExists(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}
	return append(opts, extra...), nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func ingest(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	res, err := internal.Ingest(ctx, opts...)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func exportGraph(ctx context.Context, cmd *cli.Command) error {
	// Logs go to stderr so stdout can carry the document.
	opts, err := loadOptions(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if path := cmd.String("out"); path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		defer f.Close()
		out = f
	}

	exportOpts := export.Options{
		Compress: cmd.Bool("zstd"),
		Level:    int(cmd.Int("level")),
	}
	if err := internal.Export(ctx, out, exportOpts, opts...); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

func importGraph(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if path := cmd.String("in"); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		defer f.Close()
		in = f
	}
	if err := internal.Import(ctx, in, opts...); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd, internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "linkgraph",
		Usage:   "Deduplicated graph of web pages and the links between them",
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
				Usage:  "Run the HTTP API and watch the source directory",
				Action: serve,
			},
			{
				Name:   "ingest",
				Usage:  "Fold new and changed snapshot files into the graph and exit",
				Action: ingest,
			},
			{
				Name:   "export",
				Usage:  "Write the graph as a JSON document",
				Action: exportGraph,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output file (- for stdout)",
						Value:   "-",
					},
					&cli.BoolFlag{
						Name:  "zstd",
						Usage: "Compress the output with zstd",
					},
					&cli.IntFlag{
						Name:  "level",
						Usage: "zstd compression level (1-22, 0 for default)",
					},
				},
			},
			{
				Name:   "import",
				Usage:  "Replace the graph with a document written by export",
				Action: importGraph,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "in",
						Aliases: []string{"i"},
						Usage:   "Input file (- for stdin)",
						Value:   "-",
					},
				},
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
