package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	exl2 "github.com/chrisboulton/exl2-go"
)

func newEchoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "echo",
		Short: "Check that the server is alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runOneShot(cmd,
				func(ctx context.Context, c *exl2.Client) (*exl2.Future, error) {
					return c.Echo(ctx)
				},
				func(w io.Writer, resp *exl2.Response) error {
					_, err := fmt.Fprintf(w, "ok (request %d)\n", resp.RequestID)
					return err
				},
			)
		},
	}
}

func newTokensCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens <text>",
		Short: "Estimate the number of tokens in text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return g.runOneShot(cmd,
				func(ctx context.Context, c *exl2.Client) (*exl2.Future, error) {
					return c.EstimateToken(ctx, text)
				},
				func(w io.Writer, resp *exl2.Response) error {
					n, err := resp.TokenCount()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(w, n)
					return err
				},
			)
		},
	}
}

func newTrimCmd(g *globalFlags) *cobra.Command {
	var length int

	cmd := &cobra.Command{
		Use:   "trim <text>",
		Short: "Trim text from the left to a token length",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if length <= 0 {
				return fmt.Errorf("--length must be positive")
			}
			text := strings.Join(args, " ")
			return g.runOneShot(cmd,
				func(ctx context.Context, c *exl2.Client) (*exl2.Future, error) {
					return c.LeftTrimToken(ctx, text, length)
				},
				func(w io.Writer, resp *exl2.Response) error {
					_, err := fmt.Fprintln(w, resp.TrimmedText)
					return err
				},
			)
		},
	}
	cmd.Flags().IntVarP(&length, "length", "l", 0, "Maximum length in tokens")
	return cmd
}

func newStopCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the generation currently running on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.runOneShot(cmd,
				func(ctx context.Context, c *exl2.Client) (*exl2.Future, error) {
					return c.Stop(ctx)
				},
				func(w io.Writer, resp *exl2.Response) error {
					_, err := fmt.Fprintln(w, "stopped")
					return err
				},
			)
		},
	}
}

type inferFlags struct {
	stream         bool
	maxNewTokens   int
	temperature    float64
	topP           float64
	topK           int
	repPen         float64
	stopConditions []string
	tokenHealing   bool
	tag            string
}

func newInferCmd(g *globalFlags) *cobra.Command {
	f := &inferFlags{}

	cmd := &cobra.Command{
		Use:   "infer <text>",
		Short: "Generate text from a prompt",
		Example: `  exl2 infer "My name is" --max-new-tokens 50
  exl2 infer --stream --temperature 0.7 "Once upon a time"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfer(cmd, g, f, strings.Join(args, " "))
		},
	}

	fl := cmd.Flags()
	fl.BoolVarP(&f.stream, "stream", "s", false, "Print text as it is generated")
	fl.IntVarP(&f.maxNewTokens, "max-new-tokens", "n", 0, "Maximum tokens to generate")
	fl.Float64VarP(&f.temperature, "temperature", "t", 0, "Sampling temperature")
	fl.Float64Var(&f.topP, "top-p", 0, "Nucleus sampling threshold")
	fl.IntVar(&f.topK, "top-k", 0, "Top-k sampling")
	fl.Float64Var(&f.repPen, "rep-pen", 0, "Repetition penalty")
	fl.StringSliceVar(&f.stopConditions, "stop", nil, "Stop condition, repeatable")
	fl.BoolVar(&f.tokenHealing, "token-healing", false, "Enable token healing")
	fl.StringVar(&f.tag, "tag", "", "Opaque tag echoed by the server")
	return cmd
}

// options layers the flags the user set over the configured defaults.
func (f *inferFlags) options(cmd *cobra.Command, base exl2.InferParams) []exl2.InferOption {
	opts := []exl2.InferOption{exl2.WithParams(base)}
	changed := cmd.Flags().Changed

	if changed("max-new-tokens") {
		opts = append(opts, exl2.WithMaxNewTokens(f.maxNewTokens))
	}
	if changed("temperature") {
		opts = append(opts, exl2.WithTemperature(f.temperature))
	}
	if changed("top-p") {
		opts = append(opts, exl2.WithTopP(f.topP))
	}
	if changed("top-k") {
		opts = append(opts, exl2.WithTopK(f.topK))
	}
	if changed("rep-pen") {
		opts = append(opts, exl2.WithRepetitionPenalty(f.repPen))
	}
	if changed("stop") {
		opts = append(opts, exl2.WithStopConditions(f.stopConditions...))
	}
	if f.tokenHealing {
		opts = append(opts, exl2.WithTokenHealing())
	}
	if f.tag != "" {
		opts = append(opts, exl2.WithTag(f.tag))
	}
	return opts
}

func runInfer(cmd *cobra.Command, g *globalFlags, f *inferFlags, text string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	client, cfg, err := g.connect(cmd)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	opts := f.options(cmd, cfg.InferParams())

	if !f.stream {
		fut, err := client.Infer(ctx, text, opts...)
		if err != nil {
			return err
		}
		resp, err := fut.Wait(ctx)
		if err != nil {
			fut.Release()
			return err
		}
		if g.jsonOutput {
			return printJSON(out, resp)
		}
		_, err = fmt.Fprintln(out, resp.Response)
		return err
	}

	stream, err := client.InferStream(ctx, text, opts...)
	if err != nil {
		return err
	}

	for item, err := range stream.Chunks(ctx) {
		if err != nil {
			stream.Release()
			if ctx.Err() != nil {
				// Interrupted: the server keeps generating unless told otherwise.
				if stop, serr := client.Stop(context.Background()); serr == nil {
					stop.Release()
				}
			}
			return err
		}
		if g.jsonOutput {
			if err := printJSON(out, item); err != nil {
				return err
			}
			continue
		}
		if !item.IsFinal() {
			fmt.Fprint(out, item.Chunk)
		}
	}
	if !g.jsonOutput {
		fmt.Fprintln(out)
	}
	return nil
}
