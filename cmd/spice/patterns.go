package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/esoto/expense-tracker/internal/cli"
	"github.com/esoto/expense-tracker/internal/common"
	"github.com/esoto/expense-tracker/internal/model"
	"github.com/esoto/expense-tracker/internal/pattern"
	"github.com/esoto/expense-tracker/internal/service"
)

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Manage categorization patterns",
		Long: `Patterns map transactions to categories. Each one has a type (merchant,
keyword, description, amount_range, regex, time), a value and a confidence
weight. System patterns that keep failing are retired automatically; patterns
you add yourself are never retired.`,
	}

	cmd.AddCommand(listPatternsCmd())
	cmd.AddCommand(addPatternCmd())
	cmd.AddCommand(importPatternsCmd())
	cmd.AddCommand(seedPatternsCmd())
	cmd.AddCommand(feedbackPatternCmd())
	cmd.AddCommand(testPatternCmd())
	cmd.AddCommand(learnPatternCmd())
	cmd.AddCommand(setPatternActiveCmd("activate", true))
	cmd.AddCommand(setPatternActiveCmd("deactivate", false))

	return cmd
}

func listPatternsCmd() *cobra.Command {
	var (
		category string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			categoryID := 0
			if category != "" {
				cat, err := lookupCategory(ctx, store, category)
				if err != nil {
					return err
				}
				categoryID = cat.ID
			}

			patterns, err := store.GetPatterns(ctx, all)
			if err != nil {
				return fmt.Errorf("failed to get patterns: %w", err)
			}

			names, err := categoryNames(ctx, store)
			if err != nil {
				return err
			}

			table := cli.NewTable(out, "ID", "Category", "Type", "Value", "Weight", "Uses", "Success", "Confidence", "Status")
			shown := 0
			for i := range patterns {
				p := &patterns[i]
				if categoryID != 0 && p.CategoryID != categoryID {
					continue
				}
				table.Row(p.ID, names[p.CategoryID], p.Type, p.Value,
					fmt.Sprintf("%.2f", p.ConfidenceWeight),
					p.UsageCount,
					fmt.Sprintf("%.0f%%", p.SuccessRate*100),
					fmt.Sprintf("%.2f", pattern.EffectiveConfidence(p)),
					patternStatus(p))
				shown++
			}
			if shown == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No patterns found. Use 'spice patterns add' or 'spice patterns import' to create some."))
				return nil
			}
			return table.Flush()
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "only show patterns for this category (name or ID)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include retired patterns")
	return cmd
}

func categoryNames(ctx context.Context, store service.CategoryStore) (map[int]string, error) {
	categories, err := store.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}
	names := make(map[int]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names, nil
}

func patternStatus(p *model.Pattern) string {
	status := "active"
	if !p.Active {
		status = "retired"
	}
	if p.UserCreated {
		status += ", user"
	}
	return status
}

func addPatternCmd() *cobra.Command {
	var (
		category    string
		patternType string
		value       string
		weight      float64
		system      bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a pattern",
		Example: `  spice patterns add --category Coffee --type merchant --value starbucks
  spice patterns add --category Groceries --type amount_range --value 20-200 --weight 0.5
  spice patterns add --category "Late Night" --type time --value night --system`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			pt, err := model.ParsePatternType(patternType)
			if err != nil {
				return common.NewUserError(fmt.Sprintf("unknown pattern type %q", patternType), err)
			}

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			cat, err := lookupCategory(ctx, store, category)
			if err != nil {
				return err
			}

			source := pattern.SourceUserInput
			if system {
				source = pattern.SourceImported
			}
			p, err := pattern.NewPattern(cat.ID, pt, value,
				pattern.WithWeight(weight),
				pattern.WithUserCreated(!system),
				pattern.WithMetadata(pattern.MetadataSource, source))
			if err != nil {
				return common.NewUserError(err.Error(), err)
			}

			if err := pattern.NewManager(store).CreatePattern(ctx, p); err != nil {
				if errors.Is(err, common.ErrDuplicateEntry) {
					return common.NewUserError(fmt.Sprintf("%s pattern %q already exists in %s", pt, p.Value, cat.Name), err)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
				fmt.Sprintf("Created %s pattern %q for %s (ID %d)", p.Type, p.Value, cat.Name, p.ID)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "category name or ID")
	cmd.Flags().StringVarP(&patternType, "type", "t", "", "pattern type: "+patternTypeList())
	cmd.Flags().StringVarP(&value, "value", "v", "", "pattern value")
	cmd.Flags().Float64VarP(&weight, "weight", "w", model.DefaultConfidenceWeight, "confidence weight (0.1 to 5.0)")
	cmd.Flags().BoolVar(&system, "system", false, "create a system pattern that can be retired automatically")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func patternTypeList() string {
	names := make([]string, len(model.PatternTypes))
	for i, t := range model.PatternTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func importPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import categories and patterns from a YAML rule file",
		Long: `Import categories and patterns from a YAML rule file:

  categories:
    - name: Coffee
      description: Cafes and coffee shops
      keywords: [starbucks, "blue bottle"]
      patterns:
        - type: amount_range
          value: "2-8"
          weight: 0.5

Missing categories are created. Patterns that already exist are skipped, and
invalid entries are reported without stopping the import.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cli.NewInterruptHandler(cmd.ErrOrStderr()).HandleInterrupts(cmd.Context(), "Import")
			out := cmd.OutOrStdout()

			f, err := os.Open(args[0])
			if err != nil {
				return common.NewUserError(fmt.Sprintf("cannot open %s", args[0]), err)
			}
			defer f.Close()

			rules, err := pattern.LoadRules(f)
			if err != nil {
				return common.NewUserError(fmt.Sprintf("cannot read rules from %s", args[0]), err)
			}

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := pattern.NewManager(store).Import(ctx, store, rules)
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			for _, e := range result.Errors {
				fmt.Fprintln(out, cli.FormatWarning(e.Error()))
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf(
				"Imported %d patterns (%d skipped, %d new categories, %d errors)",
				result.PatternsCreated, result.PatternsSkipped, result.CategoriesCreated, len(result.Errors))))
			return nil
		},
	}
}

func seedPatternsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the built-in starter patterns",
		Long: `Install starter categories (Income, Transfers, Cash, Fees, Bills) and regex
patterns for common bank statement wording. They are system patterns and will
retire themselves if they keep getting it wrong. Running seed again is safe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := pattern.NewManager(store).Import(ctx, store, pattern.DefaultRules())
			if err != nil {
				return fmt.Errorf("seeding failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Installed %d starter patterns (%d already present)", result.PatternsCreated, result.PatternsSkipped)))
			return nil
		},
	}
}

func feedbackPatternCmd() *cobra.Command {
	var wrong bool

	cmd := &cobra.Command{
		Use:   "feedback <id>",
		Short: "Record whether a pattern's suggestion was right",
		Long: `Record one use of a pattern. By default the use counts as a success; pass
--wrong to count a failure. A system pattern with at least 20 uses and a
success rate under 30% is retired.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0], "pattern")
			if err != nil {
				return err
			}

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := pattern.NewManager(store).RecordUsage(ctx, id, !wrong)
			if errors.Is(err, common.ErrNotFound) {
				return common.NewUserError(fmt.Sprintf("pattern %d not found", id), err)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf(
				"Pattern %d: %d/%d successful (%.0f%%), confidence %.2f",
				p.ID, p.SuccessCount, p.UsageCount, p.SuccessRate*100, pattern.EffectiveConfidence(p))))
			if !p.Active {
				fmt.Fprintln(out, cli.FormatWarning("Pattern has been retired for poor performance"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wrong, "wrong", false, "the pattern suggested the wrong category")
	return cmd
}

func testPatternCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <id>",
		Short: "Check whether a pattern matches a transaction",
		Example: `  spice patterns test 3 --merchant "STARBUCKS #1234"
  spice patterns test 7 --amount 42.50 --date "2024-03-01 23:15"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0], "pattern")
			if err != nil {
				return err
			}
			candidate, err := candidateFromFlags(cmd)
			if err != nil {
				return err
			}

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := store.GetPattern(ctx, id)
			if errors.Is(err, common.ErrNotFound) {
				return common.NewUserError(fmt.Sprintf("pattern %d not found", id), err)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if pattern.Matches(p, candidate) {
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf(
					"%s pattern %q matches (confidence %.2f)", p.Type, p.Value, pattern.EffectiveConfidence(p))))
			} else {
				fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%s pattern %q does not match", p.Type, p.Value)))
			}
			return nil
		},
	}

	addCandidateFlags(cmd)
	return cmd
}

func learnPatternCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Teach the pattern bank the right category for a transaction",
		Long: `Record the confirmed category of a transaction. Every matching pattern
records a success or a failure, and a merchant pattern for the transaction's
merchant is created in the confirmed category if none exists.`,
		Example: `  spice patterns learn --merchant "BLUE BOTTLE" --category Coffee`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			candidate, err := candidateFromFlags(cmd)
			if err != nil {
				return err
			}

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			cat, err := lookupCategory(ctx, store, category)
			if err != nil {
				return err
			}

			learned, err := pattern.NewManager(store).LearnFromCorrection(ctx, candidate, cat.ID)
			if errors.Is(err, pattern.ErrNoMerchantText) {
				return common.NewUserError("--merchant is required to learn a pattern", err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"%s now maps to %s (pattern %d, %d uses)", learned.Value, cat.Name, learned.ID, learned.UsageCount)))
			return nil
		},
	}

	addCandidateFlags(cmd)
	cmd.Flags().StringVarP(&category, "category", "c", "", "confirmed category name or ID")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func setPatternActiveCmd(use string, active bool) *cobra.Command {
	short := "Reactivate a retired pattern"
	if !active {
		short = "Retire a pattern"
	}

	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0], "pattern")
			if err != nil {
				return err
			}

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if active {
				err = store.ActivatePattern(ctx, id)
			} else {
				err = store.DeactivatePattern(ctx, id)
			}
			if errors.Is(err, common.ErrNotFound) {
				return common.NewUserError(fmt.Sprintf("pattern %d not found", id), err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Pattern %d %sd", id, use)))
			return nil
		},
	}
}
