package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhailiang23/deep-search-sub000/internal/search"
)

type searchOptions struct {
	space         string
	channels      []string
	from          int
	size          int
	keywordWeight float64
	vectorWeight  float64
	format        string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search",
		Long: `Run a hybrid search over the indexed documents.

The query is expanded with banking synonyms and domain terms, both
channels run in parallel, and the fused list is returned with the
strategy that produced it.

Examples:
  deepsearch search "房贷利率"
  deepsearch search "如何办理转账" --size 5 --format json
  deepsearch search "信用卡" --space bank-a --channel mobile`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.space, "space", "", "Restrict to one search space")
	cmd.Flags().StringSliceVar(&opts.channels, "channel", nil, "Restrict to content channels (repeatable)")
	cmd.Flags().IntVar(&opts.from, "from", 0, "Result offset")
	cmd.Flags().IntVarP(&opts.size, "size", "n", 10, "Maximum number of results")
	cmd.Flags().Float64Var(&opts.keywordWeight, "keyword-weight", 0, "Override the keyword channel weight")
	cmd.Flags().Float64Var(&opts.vectorWeight, "vector-weight", 0, "Override the vector channel weight")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.searcher.Search(cmd.Context(), search.Request{
		Query:         query,
		SpaceID:       opts.space,
		Channels:      opts.channels,
		From:          opts.from,
		Size:          opts.size,
		KeywordWeight: opts.keywordWeight,
		VectorWeight:  opts.vectorWeight,
	})

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(cmd, result)
	return nil
}

func printResult(cmd *cobra.Command, result search.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "query: %s\n", result.Query)
	fmt.Fprintf(out, "strategy: %s  results: %d  took: %dms\n",
		result.Strategy, result.TotalResults, result.ResponseTimeMs)
	if len(result.ExpandedTerms) > 0 {
		fmt.Fprintf(out, "expanded: %s\n", strings.Join(result.ExpandedTerms, ", "))
	}
	fmt.Fprintln(out)

	for i, doc := range result.Documents {
		fmt.Fprintf(out, "%2d. %s  [%s]\n", result.Page*result.Size+i+1, doc.Title, doc.ID)
		if doc.Summary != "" {
			fmt.Fprintf(out, "    %s\n", doc.Summary)
		}
	}
	if len(result.Documents) == 0 {
		fmt.Fprintln(out, "no results")
	}
}
