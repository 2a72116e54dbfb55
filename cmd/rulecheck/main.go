// Command rulecheck reports which URLs the disable list turns the keys off
// for. URLs come from the arguments, or one per line on stdin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"movekey/rules"
	"movekey/storage"
)

var (
	storePath = flag.String("store", "", "rules file (default ~/.config/movekey/rules.json)")
	key       = flag.String("key", "disablelist", "storage key holding the list")
	quiet     = flag.Bool("q", false, "only print URLs the keys are disabled on")
	asJSON    = flag.Bool("json", false, "print one JSON object per URL")
)

// report is one URL's outcome.
type report struct {
	URL      string   `json:"url"`
	Disabled bool     `json:"disabled"`
	Matched  []int    `json:"matched,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
}

func main() {
	flag.Parse()

	path := *storePath
	if path == "" {
		p, err := storage.DefaultFilePath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "rulecheck: %v\n", err)
			os.Exit(1)
		}
		path = p
	}
	f, err := storage.NewFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rulecheck: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	list, err := rules.NewStore(f, rules.StoreOptions{Key: *key}).Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rulecheck: loading %s: %v\n", path, err)
		os.Exit(1)
	}

	urls := flag.Args()
	if len(urls) == 0 {
		urls, err = readURLs(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rulecheck: %v\n", err)
			os.Exit(1)
		}
	}

	disabled := check(os.Stdout, urls, list, *quiet, *asJSON)
	if *quiet && disabled == 0 {
		os.Exit(1)
	}
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}

// check writes a line per URL and returns how many are disabled.
func check(w io.Writer, urls []string, list []rules.Rule, quiet, asJSON bool) int {
	enc := json.NewEncoder(w)
	disabled := 0
	for _, u := range urls {
		v := rules.Evaluate(u, list)
		rep := report{URL: u, Disabled: v.Suppress}
		for _, r := range v.Matched {
			rep.Matched = append(rep.Matched, r.ID)
		}
		for _, inv := range v.Invalid {
			rep.Skipped = append(rep.Skipped, fmt.Sprintf("%d: %v", inv.Rule.ID, inv.Err))
		}
		if v.Suppress {
			disabled++
		}
		if quiet && !v.Suppress {
			continue
		}

		switch {
		case asJSON:
			enc.Encode(rep)
		case quiet:
			fmt.Fprintln(w, u)
		case v.Suppress:
			fmt.Fprintf(w, "disabled %s %v\n", u, rep.Matched)
		default:
			fmt.Fprintf(w, "active   %s\n", u)
		}
	}
	return disabled
}
