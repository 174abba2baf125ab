package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/gophstore/internal/app"
	"github.com/and161185/gophstore/internal/config"
	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/store"
)

// cli is the state shared by one command invocation.
type cli struct {
	in  io.Reader
	out io.Writer

	cfgPath  string
	readOnly bool

	cfg *config.Config
	log *zap.Logger
	env *app.Env
	st  *store.Store
}

// run executes one command line and always releases the database afterwards.
func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	root, c := newRootCmd(in, out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if terr := c.teardown(ctx); err == nil {
		err = terr
	}
	return err
}

func newRootCmd(in io.Reader, out io.Writer) (*cobra.Command, *cli) {
	c := &cli{in: in, out: out}
	root := &cobra.Command{
		Use:   "gophstore",
		Short: "Local encrypted password store",
		Long: `gophstore keeps secrets in an encrypted database. Item metadata is
also written as sealed blocks that can be shipped to other devices and merged.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "config file (default ~/.gophstore/config.json)")
	root.PersistentFlags().BoolVar(&c.readOnly, "read-only", false, "open the database without writing")

	root.AddCommand(
		c.initCmd(), c.unlockCmd(), c.forgetCmd(), c.verifyCmd(), c.statusCmd(), c.passwdCmd(),
		c.addCmd(), c.showCmd(), c.listCmd(), c.rmCmd(), c.tagCmd(), c.favCmd(), c.archiveCmd(),
		c.attachCmd(), c.attachmentCmd(),
		c.rebuildCmd(), c.mergeCmd(), c.checkCmd(), c.watchCmd(), c.pullCmd(), c.pushCmd(),
		c.configCmd(), versionCmd(),
	)
	return root, c
}

// setup loads config and opens the database; commands decide whether to unlock.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations["bare"] == "true" {
		return nil
	}
	cfg, err := config.Load(c.cfgPath)
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	env, err := app.Open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	opts := []store.Option{
		store.WithLogger(log),
		store.WithKDFParams(cfg.KDF),
		store.WithLimiter(env.Limiter),
	}
	if c.readOnly {
		opts = append(opts, store.WithReadOnly())
	}
	c.cfg, c.log, c.env = cfg, log, env
	c.st = store.New(env.Repo, opts...)
	if _, err := c.st.Load(cmd.Context()); err != nil {
		return err
	}
	return nil
}

// teardown persists pending changes and releases the driver.
func (c *cli) teardown(ctx context.Context) error {
	if c.st == nil {
		return nil
	}
	err := c.st.Close(ctx)
	c.env.Close()
	_ = c.log.Sync()
	return err
}

// unlock tries a cached key first and falls back to the master password.
func (c *cli) unlock(ctx context.Context) error {
	switch c.st.State() {
	case store.StateUnlocked:
		return nil
	case store.StateNull:
		return fmt.Errorf("no database at %s; run gophstore init", c.st.DatabasePath())
	}
	if key, err := c.env.Keychain.Get(ctx, c.env.KeyID()); err == nil {
		_, uerr := c.st.UnlockWithKey(ctx, key)
		crypto.Zero(key)
		if uerr == nil {
			return nil
		}
		if !errors.Is(uerr, errs.ErrWrongPassword) {
			return uerr
		}
		c.log.Info("cached key rejected, forgetting it")
		_ = c.env.Keychain.Delete(ctx, c.env.KeyID())
	}
	pw, err := readPassword(c.in, c.out, "Master password: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(pw)
	key, err := c.st.Unlock(ctx, pw)
	if err != nil {
		return err
	}
	crypto.Zero(key)
	return nil
}
