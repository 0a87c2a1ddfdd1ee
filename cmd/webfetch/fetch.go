package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/app"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

func newFetchCmd(root *rootOptions) *cobra.Command {
	var (
		req       webfetch.Request
		maxTokens int
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch one URL and print the JSON response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := app.New(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			req.URL = args[0]
			if cmd.Flags().Changed("max-chunk-tokens") {
				req.MaxChunkTokens = &maxTokens
			}

			out := cmd.OutOrStdout()
			res, err := a.Pipeline.Fetch(cmd.Context(), req)
			if err != nil {
				fe := fetcherr.From(err)
				data, merr := fe.MarshalJSON()
				if merr != nil {
					return merr
				}
				fmt.Fprintln(out, string(data))
				return fe
			}
			fmt.Fprintln(out, string(res.Body))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&maxTokens, "max-chunk-tokens", 0, "token budget per chunk")
	flags.BoolVar(&req.NoCache, "no-cache", false, "bypass the cache lookup")
	flags.BoolVar(&req.ForceBrowser, "force-browser", false, "render with the sandboxed browser")
	flags.IntVar(&req.MaxOutputBytes, "max-output-bytes", 0, "response size limit in bytes")
	return cmd
}
