package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"movekey/dispatch"
	"movekey/page"
)

var (
	focusScroll int
	focusKeys   string
)

var focusCmd = &cobra.Command{
	Use:   "focus <file.html>",
	Short: "Show which input the i key would focus on a static page",
	Long: `Parses an HTML file and runs the focus selection on it. Element geometry is
read from data-rect="left,top,width,height" attributes and the viewport from
data-viewport="width,height" on the html element.

With --keys the keys are typed into the page first, so "jjd" scrolls before
the inputs are checked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := page.Open(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if focusScroll != 0 {
			if err := p.ScrollTo(ctx, focusScroll); err != nil {
				return err
			}
		}
		if focusKeys != "" {
			d, err := dispatch.New(dispatch.Config{Page: p, Keys: p, Logger: a.log.With("dispatch"), Options: dispatchOptions(a.cfg)})
			if err != nil {
				return err
			}
			d.SetListening(true)
			for i, res := range p.Type(ctx, focusKeys) {
				fmt.Fprintf(out, "%q -> %s\n", focusKeys[i:i+1], describeResult(res))
			}
		}

		cands, err := p.TextInputs(ctx)
		if err != nil {
			return err
		}
		vp, _ := p.Viewport(ctx)
		fmt.Fprintf(out, "viewport %gx%g, scrolled to %d, %d candidates\n", vp.Width, vp.Height, p.ScrollY(), len(cands))
		for _, c := range cands {
			vis := "hidden"
			if c.Visible(vp) {
				vis = "visible"
			}
			fmt.Fprintf(out, "  %d tabindex=%d %s\n", c.Index, c.TabIndex, vis)
		}

		if _, focused := p.Focused(); !focused {
			if err := dispatch.FocusFirstInput(ctx, p); err != nil {
				return err
			}
		}
		sel, ok := p.Focused()
		if !ok {
			fmt.Fprintln(out, "no visible input")
			return nil
		}
		fmt.Fprintf(out, "focus: %s\n", page.Describe(sel))
		return nil
	},
}

func describeResult(res dispatch.Result) string {
	if !res.Consumed {
		return "passed through"
	}
	return string(res.Action)
}

func init() {
	focusCmd.Flags().IntVar(&focusScroll, "scroll", 0, "scroll offset before selecting")
	focusCmd.Flags().StringVar(&focusKeys, "keys", "", "keys to type before selecting")
	rootCmd.AddCommand(focusCmd)
}
