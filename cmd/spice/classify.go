package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/esoto/expense-tracker/internal/alias"
	"github.com/esoto/expense-tracker/internal/cli"
	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/ofx"
	"github.com/esoto/expense-tracker/internal/pattern"
)

func classifyCmd() *cobra.Command {
	var (
		ofxFile         string
		top             int
		resolveMerchant bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Suggest categories for a transaction or an OFX statement",
		Long: `Match a transaction against the active patterns and show ranked category
suggestions. Describe one transaction with --merchant, --description, --amount
and --date, or classify every transaction of an OFX/QFX file with --ofx.

With --resolve, merchant names are first mapped to their canonical merchant,
recording new aliases as they are seen.`,
		Example: `  spice classify --merchant "STARBUCKS #1234" --amount 5.75 --date "2024-03-01 08:10"
  spice classify --ofx ~/Downloads/checking.qfx --resolve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ofxFile != "" {
				return classifyStatement(cmd, ofxFile, resolveMerchant)
			}
			return classifySingle(cmd, top, resolveMerchant)
		},
	}

	addCandidateFlags(cmd)
	cmd.Flags().StringVar(&ofxFile, "ofx", "", "OFX/QFX file to classify")
	cmd.Flags().IntVarP(&top, "top", "n", 3, "number of suggestions to show")
	cmd.Flags().BoolVar(&resolveMerchant, "resolve", false, "resolve merchant names to canonical merchants first")
	cmd.MarkFlagsMutuallyExclusive("ofx", "merchant")
	cmd.MarkFlagsMutuallyExclusive("ofx", "description")
	return cmd
}

func classifySingle(cmd *cobra.Command, top int, resolveMerchant bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	candidate, err := candidateFromFlags(cmd)
	if err != nil {
		return err
	}

	store, cfg, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if raw, ok := candidate.MerchantText(); ok && resolveMerchant {
		name, err := canonicalName(ctx, newResolver(store, cfg), raw)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Merchant: %s", name)))
	}

	suggestions, err := pattern.NewManager(store).Classify(ctx, candidate)
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Fprintln(out, cli.FormatWarning("No pattern matched this transaction"))
		return nil
	}

	names, err := categoryNames(ctx, store)
	if err != nil {
		return err
	}

	table := cli.NewTable(out, "Category", "Confidence", "Patterns", "Reason")
	for i, s := range suggestions {
		if top > 0 && i >= top {
			break
		}
		table.Row(names[s.CategoryID], fmt.Sprintf("%.2f", s.Confidence), s.MatchedPatterns, s.Reason)
	}
	return table.Flush()
}

func classifyStatement(cmd *cobra.Command, path string, resolveMerchant bool) error {
	ctx := cli.NewInterruptHandler(cmd.ErrOrStderr()).HandleInterrupts(cmd.Context(), "Classification")
	out := cmd.OutOrStdout()

	f, err := os.Open(path)
	if err != nil {
		return common.NewUserError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	txns, err := ofx.NewParser().Parse(ctx, f)
	if err != nil {
		return common.NewUserError(fmt.Sprintf("cannot parse %s", path), err)
	}
	if len(txns) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No transactions found"))
		return nil
	}

	store, cfg, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := categoryNames(ctx, store)
	if err != nil {
		return err
	}

	manager := pattern.NewManager(store)
	var resolver *alias.Resolver
	if resolveMerchant {
		resolver = newResolver(store, cfg)
	}

	progress := cli.NewProgress(cmd.ErrOrStderr(), len(txns), "Classifying transactions...")
	rows := make([][]any, 0, len(txns))
	matched := 0
	for _, txn := range txns {
		if err := ctx.Err(); err != nil {
			return err
		}

		merchantName, _ := txn.MerchantText()
		if resolver != nil && merchantName != "" {
			if merchantName, err = canonicalName(ctx, resolver, merchantName); err != nil {
				return err
			}
		}

		suggestions, err := manager.Classify(ctx, txn)
		if err != nil {
			return err
		}

		category, confidence := "-", "-"
		if len(suggestions) > 0 {
			matched++
			category = names[suggestions[0].CategoryID]
			confidence = fmt.Sprintf("%.2f", suggestions[0].Confidence)
		}
		rows = append(rows, []any{txn.Date.Format("2006-01-02"), merchantName, txn.Amount.StringFixed(2), category, confidence})
		progress.Add()
	}
	progress.Finish()

	table := cli.NewTable(out, "Date", "Merchant", "Amount", "Category", "Confidence")
	for _, row := range rows {
		table.Row(row...)
	}
	if err := table.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%d of %d transactions matched a pattern", matched, len(txns))))
	return nil
}

func canonicalName(ctx context.Context, resolver *alias.Resolver, raw string) (string, error) {
	res, err := resolver.Resolve(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("failed to resolve merchant %q: %w", raw, err)
	}
	if res == nil {
		return raw, nil
	}
	return res.Merchant.Name, nil
}
