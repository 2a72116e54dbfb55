package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"movekey/content"
	"movekey/editor"
)

var editCmd = &cobra.Command{
	Use:   "edit <url>",
	Short: "Edit the rules that apply to a URL",
	Long: `Opens the rule editor for a URL. The editor lists the rules matching the
URL, or proposes a host pattern when there are none. Commands:

  list              show the rows
  set <n> <pattern> change row n
  add [pattern]     add a row
  host | page       fill the first row with the host or page suggestion
  rm <n>            delete row n (stored rows are deleted at once)
  save              commit every row that matches the URL
  quit              leave, discarding unsaved rows`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := a.store()
		if err != nil {
			return err
		}
		e, err := editor.Open(cmd.Context(), store, nil, content.PageContext{URL: args[0]}, a.log.With("editor"))
		if err != nil {
			return err
		}
		return editLoop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), e)
	},
}

func printRows(out io.Writer, e *editor.Editor) {
	rows := e.Rows()
	if len(rows) == 0 {
		fmt.Fprintln(out, "  (no rows)")
	}
	for i, r := range rows {
		id := "new"
		if r.Stored() {
			id = strconv.Itoa(r.ID)
		}
		flag := ""
		switch {
		case r.Err != nil:
			flag = "  ! malformed"
		case r.Mismatch:
			flag = "  ! does not match"
		case r.Dirty:
			flag = "  *"
		}
		fmt.Fprintf(out, "  %d [%s] %s%s\n", i, id, r.Pattern, flag)
	}
	state := "unsaved"
	if e.Saved() {
		state = "saved"
	}
	fmt.Fprintf(out, "%s (%s)\n", e.URL(), state)
}

// editLoop runs editor commands read line by line from in until quit or EOF.
func editLoop(ctx context.Context, in io.Reader, out io.Writer, e *editor.Editor) error {
	printRows(out, e)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "edit> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		var err error
		switch name {
		case "list", "ls":
		case "set":
			var n int
			n, rest, err = rowArg(rest)
			if err == nil {
				err = e.SetPattern(n, rest)
			}
		case "add":
			i := e.AddRow()
			if rest != "" {
				err = e.SetPattern(i, rest)
			}
		case "host":
			e.UseHostSuggestion()
		case "page":
			e.UsePageSuggestion()
		case "rm", "delete":
			var n int
			n, _, err = rowArg(rest)
			if err == nil {
				err = e.Delete(ctx, n)
			}
		case "save":
			var res editor.SaveResult
			res, err = e.Save(ctx)
			if err == nil {
				fmt.Fprintf(out, "saved %d rows", res.Committed)
				if len(res.Skipped) > 0 {
					fmt.Fprintf(out, ", skipped %d flagged", len(res.Skipped))
				}
				fmt.Fprintln(out)
			}
		case "quit", "exit", "q":
			if !e.Saved() {
				fmt.Fprintln(out, "discarding unsaved rows")
			}
			return nil
		default:
			err = fmt.Errorf("unknown command %q", name)
		}

		if errors.Is(err, editor.ErrNothingToSave) {
			fmt.Fprintln(out, "nothing to save: every row is flagged")
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printRows(out, e)
	}
}

func rowArg(s string) (int, string, error) {
	first, rest, _ := strings.Cut(s, " ")
	n, err := strconv.Atoi(first)
	if err != nil {
		return 0, "", fmt.Errorf("expected a row number, got %q", first)
	}
	return n, strings.TrimSpace(rest), nil
}

func init() {
	rootCmd.AddCommand(editCmd)
}
