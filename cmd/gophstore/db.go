package main

import (
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/metadata"
	"github.com/and161185/gophstore/internal/store"
)

func (c *cli) initCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbuuid := uuid.Nil
			if id != "" {
				v, err := uuid.FromString(id)
				if err != nil {
					return fmt.Errorf("--uuid: %w", err)
				}
				dbuuid = v
			}
			pw, err := newPassword(c.in, c.out, "New master password: ")
			if err != nil {
				return err
			}
			defer crypto.Zero(pw)
			if _, err := c.st.Create(cmd.Context(), pw, dbuuid); errors.Is(err, errs.ErrAlreadyExists) {
				return fmt.Errorf("a database already exists at %s", c.st.DatabasePath())
			} else if err != nil {
				return err
			}
			d, err := c.st.Descriptor(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "created %s at %s\n", d.DBUUID, c.st.DatabasePath())
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "uuid", "", "database UUID (random when empty)")
	return cmd
}

func (c *cli) unlockCmd() *cobra.Command {
	var remember bool
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Check the master password, optionally caching the key in the keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(c.in, c.out, "Master password: ")
			if err != nil {
				return err
			}
			defer crypto.Zero(pw)
			key, err := c.st.Unlock(cmd.Context(), pw)
			if err != nil {
				return err
			}
			defer crypto.Zero(key)
			if remember {
				if err := c.env.Keychain.Put(cmd.Context(), c.env.KeyID(), key); err != nil {
					return fmt.Errorf("keychain: %w", err)
				}
			}
			fmt.Fprintln(c.out, "unlocked")
			return nil
		},
	}
	cmd.Flags().BoolVar(&remember, "remember", false, "cache the derived key in the configured keychain")
	return cmd
}

func (c *cli) forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Remove a cached key from the keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.env.Keychain.Delete(cmd.Context(), c.env.KeyID())
		},
	}
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check a master password without unlocking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(c.in, c.out, "Master password: ")
			if err != nil {
				return err
			}
			defer crypto.Zero(pw)
			key, err := c.st.VerifyMasterPassword(cmd.Context(), pw)
			if err != nil {
				return err
			}
			crypto.Zero(key)
			fmt.Fprintln(c.out, "ok")
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the database location and state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(c.out, "path:   %s\ndriver: %s\nstate:  %s\n", c.st.DatabasePath(), c.cfg.Driver, c.st.State())
			return nil
		},
	}
}

func (c *cli) passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the master password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := c.unlock(ctx); err != nil {
				return err
			}
			pw, err := newPassword(c.in, c.out, "New master password: ")
			if err != nil {
				return err
			}
			defer crypto.Zero(pw)
			if err := c.st.ChangeMasterPassword(ctx, pw); err != nil {
				return err
			}
			// the cached key no longer opens the database
			_ = c.env.Keychain.Delete(ctx, c.env.KeyID())
			fmt.Fprintln(c.out, "master password changed")
			return nil
		},
	}
}

func (c *cli) rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-metadata",
		Short: "Regenerate every metadata block from the item list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			return c.st.RebuildAllMetadataFromTrunk(cmd.Context())
		},
	}
}

func (c *cli) mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge delivered metadata blocks into the item list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			return c.merge(cmd)
		},
	}
}

func (c *cli) merge(cmd *cobra.Command) error {
	changed, err := c.st.MergeMetadata(cmd.Context())
	if errors.Is(err, errs.ErrIncompleteMetadataSet) {
		fmt.Fprintln(c.out, "waiting for more blocks")
		return nil
	}
	if err != nil {
		return err
	}
	if changed {
		fmt.Fprintln(c.out, "merged changes")
	} else {
		fmt.Fprintln(c.out, "up to date")
	}
	return nil
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the database structure without the password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.st.State() == store.StateNull {
				return fmt.Errorf("no database at %s", c.st.DatabasePath())
			}
			if !metadata.VerifyStoreIntegrity(cmd.Context(), c.env.Repo) {
				return errs.ErrDamaged
			}
			fmt.Fprintln(c.out, "sound")
			return nil
		},
	}
}
