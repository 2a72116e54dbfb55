package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"movekey/rules"
)

var forceAdd bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the disable list",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every rule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		list, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No rules.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPATTERN\tSTATUS")
		for _, r := range list {
			status := "ok"
			if err := rules.Valid(r.Pattern); err != nil {
				status = "malformed"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Pattern, status)
		}
		return w.Flush()
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <pattern>...",
	Short: "Add patterns to the disable list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ops rules.Ops
		for _, p := range args {
			if err := rules.Valid(p); err != nil && !forceAdd {
				return fmt.Errorf("%w (use --force to add it anyway)", err)
			}
			ops.Adds = append(ops.Adds, rules.Rule{ID: rules.NewID, Pattern: p})
		}

		store, err := a.store()
		if err != nil {
			return err
		}
		list, err := store.Commit(cmd.Context(), ops)
		if err != nil {
			return err
		}
		for _, r := range list[len(list)-len(ops.Adds):] {
			fmt.Fprintf(cmd.OutOrStdout(), "added %d: %s\n", r.ID, r.Pattern)
		}
		return nil
	},
}

var rulesSetCmd = &cobra.Command{
	Use:   "set <id> <pattern>",
	Short: "Change a rule's pattern",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		if err := rules.Valid(args[1]); err != nil && !forceAdd {
			return fmt.Errorf("%w (use --force to set it anyway)", err)
		}

		store, err := a.store()
		if err != nil {
			return err
		}
		if err := requireRule(cmd, store, id); err != nil {
			return err
		}
		if _, err := store.Commit(cmd.Context(), rules.Ops{Mutates: []rules.Mutate{{ID: id, Pattern: args[1]}}}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "set %d: %s\n", id, args[1])
		return nil
	},
}

var rulesRmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	Short:   "Remove rules by id",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ops rules.Ops
		for _, arg := range args {
			id, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("invalid id %q", arg)
			}
			ops.Deletes = append(ops.Deletes, id)
		}

		store, err := a.store()
		if err != nil {
			return err
		}
		for _, id := range ops.Deletes {
			if err := requireRule(cmd, store, id); err != nil {
				return err
			}
		}
		list, err := store.Commit(cmd.Context(), ops)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d, %d left\n", len(ops.Deletes), len(list))
		return nil
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <url>...",
	Short: "Show whether the keys would be active on each URL",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		list, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, url := range args {
			v := rules.Evaluate(url, list)
			if !v.Suppress {
				fmt.Fprintf(out, "%s: active\n", url)
			} else {
				fmt.Fprintf(out, "%s: disabled\n", url)
				for _, r := range v.Matched {
					fmt.Fprintf(out, "  matched %d: %s\n", r.ID, r.Pattern)
				}
			}
			for _, inv := range v.Invalid {
				fmt.Fprintf(out, "  skipped %d: %v\n", inv.Rule.ID, inv.Err)
			}
		}
		return nil
	},
}

var rulesSuggestCmd = &cobra.Command{
	Use:   "suggest <url>",
	Short: "Print host and page patterns for a URL",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "host: %s\npage: %s\n", rules.SuggestHost(args[0]), rules.SuggestPage(args[0]))
	},
}

func requireRule(cmd *cobra.Command, store *rules.Store, id int) error {
	list, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}
	for _, r := range list {
		if r.ID == id {
			return nil
		}
	}
	return fmt.Errorf("no rule with id %d", id)
}

func init() {
	rulesAddCmd.Flags().BoolVar(&forceAdd, "force", false, "accept patterns that do not compile")
	rulesSetCmd.Flags().BoolVar(&forceAdd, "force", false, "accept patterns that do not compile")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesSetCmd, rulesRmCmd, rulesCheckCmd, rulesSuggestCmd)
	rootCmd.AddCommand(rulesCmd)
}
