package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xmx0632/photoshow/generation"
)

func newLimitCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "limit",
		Short: "Show today's generation count and remaining quota",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			c, err := newCore(cfg, setupLogger(os.Stderr, cfg.Log))
			if err != nil {
				return err
			}
			defer c.close(context.Background())

			st := c.limiter.Check(cmdContext(cmd))
			return printLimit(cmd.OutOrStdout(), st, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printLimit(w io.Writer, st generation.LimitStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintln(w, "Generation quota:")
	fmt.Fprintf(w, "  Used:      %d / %d\n", st.CurrentCount, st.Limit)
	fmt.Fprintf(w, "  Remaining: %d\n", st.Remaining)
	if st.IsLimitExceeded {
		fmt.Fprintln(w, "  Limit reached for today")
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
