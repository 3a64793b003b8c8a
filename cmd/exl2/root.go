package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	exl2 "github.com/chrisboulton/exl2-go"
	"github.com/chrisboulton/exl2-go/config"
	"github.com/chrisboulton/exl2-go/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	url        string
	host       string
	port       int
	logLevel   string
	logFormat  string
	quiet      bool
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "exl2",
		Short:         "Client for the ExLlamaV2 WebSocket API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&g.url, "url", "", "Server WebSocket URL (overrides --host and --port)")
	pf.StringVar(&g.host, "host", "", "Server host (default 127.0.0.1)")
	pf.IntVarP(&g.port, "port", "p", 0, "Server port (default 5001)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: text or json")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "Disable logging")
	pf.BoolVar(&g.jsonOutput, "json", false, "Print raw response frames as JSON")

	root.AddCommand(
		newEchoCmd(g),
		newTokensCmd(g),
		newTrimCmd(g),
		newStopCmd(g),
		newInferCmd(g),
	)

	return root
}

// load resolves configuration from the file and command line.
func (g *globalFlags) load() (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return nil, err
		}
	}

	if g.host != "" {
		cfg.Host = g.host
	}
	if g.port != 0 {
		cfg.Port = g.port
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *globalFlags) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	if g.quiet {
		return logging.Nop()
	}
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
		Output: w,
	})
}

// connect loads configuration and opens a client.
func (g *globalFlags) connect(cmd *cobra.Command) (*exl2.Client, *config.Config, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}

	url := g.url
	if url == "" {
		url = cfg.URL()
	}

	client, err := exl2.Connect(cmd.Context(), url,
		exl2.WithLogger(g.logger(cfg, cmd.ErrOrStderr())),
	)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// runOneShot connects, issues one call and prints the reply with format.
func (g *globalFlags) runOneShot(
	cmd *cobra.Command,
	call func(ctx context.Context, c *exl2.Client) (*exl2.Future, error),
	format func(w io.Writer, resp *exl2.Response) error,
) error {
	ctx := cmd.Context()

	client, _, err := g.connect(cmd)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	fut, err := call(ctx, client)
	if err != nil {
		return err
	}
	resp, err := fut.Wait(ctx)
	if err != nil {
		fut.Release()
		return err
	}

	if g.jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	return format(cmd.OutOrStdout(), resp)
}

func printJSON(w io.Writer, resp *exl2.Response) error {
	if len(resp.Raw) > 0 {
		_, err := fmt.Fprintln(w, string(bytes.TrimSpace(resp.Raw)))
		return err
	}
	return json.NewEncoder(w).Encode(resp)
}
