package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/esoto/expense-tracker/internal/cli"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage expense categories",
		Long:  `List and add the categories that patterns point at.`,
	}

	cmd.AddCommand(listCategoriesCmd())
	cmd.AddCommand(addCategoryCmd())

	return cmd
}

func listCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			categories, err := store.GetCategories(ctx)
			if err != nil {
				return fmt.Errorf("failed to get categories: %w", err)
			}

			if len(categories) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No categories found. Use 'spice categories add' to create one."))
				return nil
			}

			table := cli.NewTable(out, "ID", "Name", "Description")
			for _, cat := range categories {
				desc := cat.Description
				if desc == "" {
					desc = "(no description)"
				}
				table.Row(cat.ID, cat.Name, desc)
			}
			return table.Flush()
		},
	}
}

func addCategoryCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a new category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, _, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			cat, err := store.CreateCategory(ctx, args[0], description)
			if err != nil {
				return fmt.Errorf("failed to create category: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created category %q (ID %d)", cat.Name, cat.ID)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "category description")
	return cmd
}
