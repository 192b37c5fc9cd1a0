package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/esoto/expense-tracker/internal/alias"
	"github.com/esoto/expense-tracker/internal/cli"
	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/service"
)

func aliasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "aliases",
		Aliases: []string{"merchants"},
		Short:   "Resolve and maintain merchant aliases",
		Long: `Bank statements spell the same merchant many ways. Aliases map each raw
spelling to one canonical merchant. Lookups try the exact raw name, then the
normalized name, then trigram similarity.`,
	}

	cmd.AddCommand(resolveAliasCmd())
	cmd.AddCommand(lookupAliasCmd())
	cmd.AddCommand(recordAliasCmd())
	cmd.AddCommand(listAliasesCmd())
	cmd.AddCommand(mergeAliasesCmd())
	cmd.AddCommand(dedupeAliasesCmd())
	cmd.AddCommand(aliasHistoryCmd())

	return cmd
}

func resolveAliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <raw name>",
		Short: "Map a raw merchant name to its canonical merchant, learning new aliases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, cfg, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := newResolver(store, cfg).Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if res == nil {
				return common.NewUserError("merchant name is blank", nil)
			}

			out := cmd.OutOrStdout()
			switch {
			case res.Created:
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("New merchant %q (ID %d)", res.Merchant.Name, res.Merchant.ID)))
			case res.Kind == "":
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%q recorded as an alias of %s", args[0], res.Merchant.Name)))
			default:
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s (%s match)", res.Merchant.Name, res.Kind)))
			}
			printAlias(out, res.Alias)
			return nil
		},
	}
}

func lookupAliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <raw name>",
		Short: "Find the best alias for a raw merchant name without recording anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, cfg, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			match, err := newResolver(store, cfg).Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			if match == nil {
				fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("No alias found for %q", args[0])))
				return nil
			}

			m, err := store.GetMerchant(ctx, match.Alias.CanonicalMerchantID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s (%s match, similarity %.2f)", m.Name, match.Kind, match.Similarity)))
			printAlias(out, match.Alias)
			return nil
		},
	}
}

func printAlias(out io.Writer, a *model.MerchantAlias) {
	if a == nil {
		return
	}
	trust := "untrusted"
	if alias.Trustworthy(a) {
		trust = "trusted"
	}
	fmt.Fprintf(out, "  alias %d: %q → %q, confidence %.2f, %d matches, %s\n",
		a.ID, a.RawName, a.NormalizedName, a.Confidence, a.MatchCount, trust)
}

func recordAliasCmd() *cobra.Command {
	var (
		merchantName string
		confidence   float64
	)

	cmd := &cobra.Command{
		Use:   "record <raw name>",
		Short: "Record a raw name as an alias of a merchant",
		Long: `Record a raw name as an alias of a merchant, creating the merchant if it
does not exist. Recording an alias that already exists counts as another match.`,
		Example: `  spice aliases record "AMZN MKTP US*2K3" --merchant Amazon`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, cfg, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := findOrCreateMerchant(ctx, store, merchantName)
			if err != nil {
				return err
			}

			a, err := newResolver(store, cfg).RecordAlias(ctx, args[0], m, alias.WithConfidence(confidence))
			if errors.Is(err, alias.ErrConfidenceOutOfRange) {
				return common.NewUserError("--confidence must be between 0 and 1", err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Recorded alias of %s", m.Name)))
			printAlias(cmd.OutOrStdout(), a)
			return nil
		},
	}

	cmd.Flags().StringVarP(&merchantName, "merchant", "m", "", "canonical merchant name")
	cmd.Flags().Float64Var(&confidence, "confidence", model.DefaultAliasConfidence, "alias confidence between 0 and 1")
	_ = cmd.MarkFlagRequired("merchant")
	return cmd
}

func findOrCreateMerchant(ctx context.Context, store service.AliasStore, name string) (*model.CanonicalMerchant, error) {
	m, err := store.FindMerchantByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up merchant %q: %w", name, err)
	}
	if m != nil {
		return m, nil
	}
	m, err = store.CreateMerchant(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create merchant %q: %w", name, err)
	}
	return m, nil
}

// lookupMerchant accepts a merchant ID or name.
func lookupMerchant(ctx context.Context, store service.AliasStore, ref string) (*model.CanonicalMerchant, error) {
	if id, err := strconv.Atoi(ref); err == nil {
		m, err := store.GetMerchant(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewUserError(fmt.Sprintf("merchant %d not found", id), err)
		}
		return m, err
	}

	m, err := store.FindMerchantByName(ctx, ref)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, common.NewUserError(fmt.Sprintf("merchant %q not found", ref), common.ErrNotFound)
	}
	return m, nil
}

func listAliasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [merchant]",
		Short: "List merchants, or the aliases of one merchant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				return listMerchants(ctx, out, store)
			}

			m, err := lookupMerchant(ctx, store, args[0])
			if err != nil {
				return err
			}
			aliases, err := store.GetAliasesByMerchant(ctx, m.ID)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, cli.FormatTitle(m.Name))
			table := cli.NewTable(out, "ID", "Raw name", "Normalized", "Confidence", "Matches", "Last seen", "Trusted")
			for i := range aliases {
				a := &aliases[i]
				lastSeen := "-"
				if a.LastSeenAt != nil {
					lastSeen = a.LastSeenAt.Format("2006-01-02")
				}
				table.Row(a.ID, a.RawName, a.NormalizedName, fmt.Sprintf("%.2f", a.Confidence),
					a.MatchCount, lastSeen, alias.Trustworthy(a))
			}
			return table.Flush()
		},
	}
}

func listMerchants(ctx context.Context, out io.Writer, store service.Storage) error {
	lister, ok := store.(merchantLister)
	if !ok {
		return errors.New("this storage backend cannot list merchants")
	}
	merchants, err := lister.GetMerchants(ctx)
	if err != nil {
		return err
	}
	if len(merchants) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No merchants yet. Use 'spice aliases resolve' or 'spice aliases record' to add some."))
		return nil
	}

	table := cli.NewTable(out, "ID", "Name", "Normalized", "Uses")
	for _, m := range merchants {
		table.Row(m.ID, m.Name, m.NormalizedName, m.UsageCount)
	}
	return table.Flush()
}

func mergeAliasesCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "merge <keep-id> <other-id>",
		Short: "Fold one alias into another of the same merchant",
		Long: `Merge two aliases of the same merchant. Match counts are added, the kept
alias takes the higher confidence and the later last-seen time, and the other
alias is deleted. Merges that would undo an earlier merge are refused.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			keepID, err := parseID(args[0], "alias")
			if err != nil {
				return err
			}
			otherID, err := parseID(args[1], "alias")
			if err != nil {
				return err
			}

			store, cfg, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			keep, err := getAlias(ctx, store, keepID)
			if err != nil {
				return err
			}
			other, err := getAlias(ctx, store, otherID)
			if err != nil {
				return err
			}

			if !yes {
				ok, err := cli.Confirm(ctx, cli.NewLineReader(cmd.InOrStdin()), out,
					fmt.Sprintf("Merge %q into %q?", other.RawName, keep.RawName))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, cli.FormatInfo("Merge canceled"))
					return nil
				}
			}

			merged, err := newResolver(store, cfg).Merge(ctx, keep, other)
			if errors.Is(err, alias.ErrMergeCycle) {
				return common.NewUserError("merge refused: it would undo an earlier merge", err)
			}
			if err != nil {
				return err
			}
			if !merged {
				fmt.Fprintln(out, cli.FormatWarning("Nothing merged: the aliases are the same or belong to different merchants"))
				return nil
			}

			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Merged %q into %q", other.RawName, keep.RawName)))
			printAlias(out, keep)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func getAlias(ctx context.Context, store service.AliasStore, id int) (*model.MerchantAlias, error) {
	a, err := store.GetAlias(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewUserError(fmt.Sprintf("alias %d not found", id), err)
	}
	return a, err
}

func dedupeAliasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe [merchant]",
		Short: "Merge aliases that normalize to the same name",
		Long: `Collapse aliases of a merchant whose normalized names are equal into the most
used one. Without an argument every merchant is processed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cli.NewInterruptHandler(cmd.ErrOrStderr()).HandleInterrupts(cmd.Context(), "Deduplication")
			out := cmd.OutOrStdout()

			store, cfg, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var merchants []model.CanonicalMerchant
			if len(args) == 1 {
				m, err := lookupMerchant(ctx, store, args[0])
				if err != nil {
					return err
				}
				merchants = []model.CanonicalMerchant{*m}
			} else {
				lister, ok := store.(merchantLister)
				if !ok {
					return errors.New("this storage backend cannot list merchants")
				}
				if merchants, err = lister.GetMerchants(ctx); err != nil {
					return err
				}
			}

			resolver := newResolver(store, cfg)
			progress := cli.NewProgress(cmd.ErrOrStderr(), len(merchants), "Deduplicating aliases...")
			removed := 0
			for _, m := range merchants {
				n, err := resolver.Deduplicate(ctx, m.ID, nil)
				removed += n
				if err != nil {
					return fmt.Errorf("deduplication stopped at %s after removing %d aliases: %w", m.Name, removed, err)
				}
				progress.Add()
			}
			progress.Finish()

			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Removed %d duplicate aliases across %d merchants", removed, len(merchants))))
			return nil
		},
	}
}

func aliasHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <merchant>",
		Short: "Show the merge history of a merchant's aliases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := lookupMerchant(ctx, store, args[0])
			if err != nil {
				return err
			}
			merges, err := store.GetAliasMerges(ctx, m.ID)
			if err != nil {
				return err
			}
			if len(merges) == 0 {
				fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("No merges recorded for %s", m.Name)))
				return nil
			}

			table := cli.NewTable(out, "Merged at", "From", "Into")
			for _, mg := range merges {
				table.Row(mg.MergedAt.Format("2006-01-02 15:04"), mg.SourceRawName, mg.TargetRawName)
			}
			return table.Flush()
		},
	}
}
