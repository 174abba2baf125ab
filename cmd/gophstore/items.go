package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/gophstore/internal/model"
)

func (c *cli) addCmd() *cobra.Command {
	var (
		f           fields
		id          string
		tags        []string
		favorite    bool
		payloadFile string
	)
	cmd := &cobra.Command{
		Use:   "add <kind>",
		Short: "Add an item; kind is one of login, password, bank_card, secure_note, identification, software_license, bank_account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseKind(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := c.unlock(ctx); err != nil {
				return err
			}
			// stdin payloads are read after the password prompt
			var payload []byte
			if payloadFile != "" {
				payload, err = readAll(c.in, payloadFile)
			} else {
				payload, err = payloadFor(kind, f)
			}
			if err != nil {
				return err
			}
			it, err := c.st.AddItem(ctx, &model.Item{ID: id, Kind: kind, Payload: payload, Tags: tags, Favorite: favorite})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, it.ID)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&id, "id", "", "item id (generated when empty)")
	fl.StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	fl.BoolVar(&favorite, "fav", false, "mark as favorite")
	fl.StringVar(&payloadFile, "payload-file", "", "raw payload file, - for stdin")
	fl.StringVar(&f.Title, "title", "", "title")
	fl.StringVar(&f.URL, "url", "", "url")
	fl.StringVar(&f.Username, "username", "", "username")
	fl.StringVar(&f.Password, "password", "", "password")
	fl.StringVar(&f.OTP, "otp", "", "TOTP secret (base32)")
	fl.StringVar(&f.Text, "text", "", "note text")
	fl.StringVar(&f.Name, "name", "", "holder or document name")
	fl.StringVar(&f.Number, "number", "", "card, account or document number")
	fl.StringVar(&f.Exp, "exp", "", "MM/YY")
	fl.StringVar(&f.CVC, "cvc", "", "CVC")
	fl.StringVar(&f.Note, "note", "", "note")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one item with its decoded payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			it, err := c.st.Item(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "id:       %s\nkind:     %s\ntags:     %s\nfavorite: %t\narchived: %t\nupdated:  %s\n",
				it.ID, it.Kind, strings.Join(it.Tags, ","), it.Favorite, it.Archived, msString(it.UpdatedAt))
			if it.Pending {
				fmt.Fprintln(c.out, "payload:  (waiting for sync)")
				return nil
			}
			if len(it.Attachments) > 0 {
				fmt.Fprintf(c.out, "attachments: %s\n", strings.Join(it.Attachments, ","))
			}
			fmt.Fprintln(c.out, pretty(it.Payload))
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var (
		kindName string
		tag      string
		archived bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds := model.Kinds
			if kindName != "" {
				k, err := model.ParseKind(kindName)
				if err != nil {
					return err
				}
				kinds = []model.Kind{k}
			}
			ctx := cmd.Context()
			if err := c.unlock(ctx); err != nil {
				return err
			}
			var items []*model.Item
			for _, k := range kinds {
				got, err := c.st.ItemsOfKind(ctx, k)
				if err != nil {
					return err
				}
				for _, it := range got {
					if it.Archived != archived || (tag != "" && !it.HasTag(tag)) {
						continue
					}
					it.Payload = nil
					items = append(items, it)
				}
			}
			if asJSON {
				return printJSON(c.out, items)
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tFAV\tTAGS\tUPDATED")
			for _, it := range items {
				fav := ""
				if it.Favorite {
					fav = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, it.Kind, fav, strings.Join(it.Tags, ","), msString(it.UpdatedAt))
			}
			return tw.Flush()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&kindName, "kind", "", "only this kind")
	fl.StringVar(&tag, "tag", "", "only items with this tag")
	fl.BoolVar(&archived, "archived", false, "list archived items instead")
	fl.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (c *cli) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.unlock(ctx); err != nil {
				return err
			}
			if len(args) > 1 {
				if err := c.st.BeginBatchOperations(ctx); err != nil {
					return err
				}
				defer func() { _ = c.st.EndBatchOperations(ctx) }()
			}
			for _, id := range args {
				if err := c.st.DeleteItem(ctx, id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}
}

func (c *cli) tagCmd() *cobra.Command {
	tag := &cobra.Command{Use: "tag", Short: "Manage tags"}
	tag.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all tags",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := c.unlock(cmd.Context()); err != nil {
					return err
				}
				tags, err := c.st.AllTags(cmd.Context())
				if err != nil {
					return err
				}
				for _, t := range tags {
					fmt.Fprintln(c.out, t)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <from> <to>",
			Short: "Rename a tag on every item",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.unlock(cmd.Context()); err != nil {
					return err
				}
				return c.st.RenameTag(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "rm <tag>",
			Short: "Remove a tag from every item",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.unlock(cmd.Context()); err != nil {
					return err
				}
				return c.st.DeleteTag(cmd.Context(), args[0])
			},
		},
		c.tagEditCmd(),
	)
	return tag
}

func (c *cli) tagEditCmd() *cobra.Command {
	var add, remove []string
	cmd := &cobra.Command{
		Use:   "edit <id>...",
		Short: "Add or remove tags on items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			return c.st.UpdateTags(cmd.Context(), args, add, remove)
		},
	}
	cmd.Flags().StringSliceVar(&add, "add", nil, "tags to add")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "tags to remove")
	return cmd
}

func (c *cli) favCmd() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "fav <id>",
		Short: "Mark an item as favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			if off {
				return c.st.UnmarkItemFavorited(cmd.Context(), args[0])
			}
			return c.st.MarkItemFavorited(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "unmark instead")
	return cmd
}

func (c *cli) archiveCmd() *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			if off {
				return c.st.UnarchiveItem(cmd.Context(), args[0])
			}
			return c.st.ArchiveItem(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "unarchive instead")
	return cmd
}

func (c *cli) attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <id> <file>",
		Short: "Attach a file to an item, - reads stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			data, err := readAll(c.in, args[1])
			if err != nil {
				return err
			}
			attID, err := c.st.AddAttachment(cmd.Context(), args[0], data)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, attID)
			return nil
		},
	}
}

func (c *cli) attachmentCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "attachment <id> <attachment-id>",
		Short: "Write an attachment to stdout or a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.unlock(cmd.Context()); err != nil {
				return err
			}
			data, err := c.st.Attachment(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if output == "" {
				_, err = c.out.Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o600)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	return cmd
}

func msString(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
