package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/and161185/gophstore/internal/blocksync"
	"github.com/and161185/gophstore/internal/config"
	blockmeta "github.com/and161185/gophstore/internal/metadata"
	"github.com/and161185/gophstore/internal/watch"
)

func (c *cli) dialSync(cmd *cobra.Command, insecure bool) (*grpc.ClientConn, *blocksync.Client, error) {
	if c.cfg.SyncAddr == "" || c.cfg.SyncToken == "" {
		return nil, nil, errors.New("sync_addr and sync_token must be configured")
	}
	cc, err := blocksync.Dial(cmd.Context(), c.cfg.SyncAddr, c.cfg.SyncCA, insecure, c.cfg.SyncToken)
	if err != nil {
		return nil, nil, err
	}
	return cc, blocksync.New(cc, blockmeta.NewExchange(c.env.Repo), c.log), nil
}

func (c *cli) pullCmd() *cobra.Command {
	var insecure bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch metadata blocks from the sync daemon and merge them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			cc, sc, err := c.dialSync(cmd, insecure)
			if err != nil {
				return err
			}
			defer cc.Close()
			n, err := sc.Pull(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "fetched %d blocks\n", n)
			return c.merge(cmd)
		},
	}
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip certificate verification (dev)")
	return cmd
}

func (c *cli) pushCmd() *cobra.Command {
	var insecure bool
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload local metadata blocks to the sync daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, sc, err := c.dialSync(cmd, insecure)
			if err != nil {
				return err
			}
			defer cc.Close()
			n, err := sc.Push(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "pushed %d blocks\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip certificate verification (dev)")
	return cmd
}

func (c *cli) watchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Merge metadata blocks as an external tool delivers them (file driver)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.env.WatchDir == "" {
				return fmt.Errorf("watch needs the %s driver", config.DriverFile)
			}
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "watching %s\n", c.env.WatchDir)
			w := watch.New(c.env.WatchDir, debounce, c.st.MetadataIsReadyToMerge, c.log)
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before merging")
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	show := &cobra.Command{
		Use:         "config",
		Short:       "Print the effective configuration, or write it with --save",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"bare": "true"},
	}
	var save bool
	show.Flags().BoolVar(&save, "save", false, "write the effective configuration to the config path")
	show.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(c.cfgPath)
		if err != nil {
			return err
		}
		if save {
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "wrote %s\n", cfg.Path)
			return nil
		}
		redacted := *cfg
		if redacted.SyncToken != "" {
			redacted.SyncToken = "***"
		}
		return printJSON(c.out, redacted)
	}
	return show
}

var (
	version   = "dev"
	buildDate = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"bare": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "gophstore %s (%s)\n", version, buildDate)
			return nil
		},
	}
}
