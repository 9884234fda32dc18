package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xmx0632/photoshow/imagecache"
)

func newCacheCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the image cache",
	}

	var expireMinutes int
	var asJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache contents and freshness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if expireMinutes <= 0 {
				expireMinutes = cfg.Cache.ExpireMinutes
			}
			c, err := newCore(cfg, setupLogger(os.Stderr, cfg.Log))
			if err != nil {
				return err
			}
			defer c.close(context.Background())

			st := c.cache.Status(cmdContext(cmd), expireMinutes)
			return printCacheStatus(cmd.OutOrStdout(), st, asJSON)
		},
	}
	statusCmd.Flags().IntVar(&expireMinutes, "expire-minutes", 0, "Age after which the cache counts as expired (default cache.expire_minutes)")
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached image record",
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

			if err := c.cache.Clear(cmdContext(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Image cache cleared")
			return nil
		},
	}

	cmd.AddCommand(statusCmd, clearCmd)
	return cmd
}

func printCacheStatus(w io.Writer, st imagecache.Status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	updated := "never"
	if st.LastUpdated != nil {
		updated = st.LastUpdated.Format(time.RFC3339)
	}
	fmt.Fprintln(w, "Image cache:")
	fmt.Fprintf(w, "  Images:       %d\n", len(st.Images))
	fmt.Fprintf(w, "  Initialized:  %t\n", st.IsInitialized)
	fmt.Fprintf(w, "  Expired:      %t\n", st.IsExpired)
	fmt.Fprintf(w, "  Last updated: %s\n", updated)
	return nil
}
