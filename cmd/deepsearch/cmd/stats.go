package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/zhailiang23/deep-search-sub000/internal/cache"
	"github.com/zhailiang23/deep-search-sub000/internal/synonym"
	"github.com/zhailiang23/deep-search-sub000/internal/trie"
)

// statsReport aggregates component statistics for operators.
type statsReport struct {
	KeywordDocuments uint64        `json:"keyword_documents"`
	VectorDocuments  int           `json:"vector_documents"`
	SearchLogRows    int64         `json:"search_log_rows"`
	Synonyms         synonym.Stats `json:"synonyms"`
	SuggestionIndex  trie.Stats    `json:"suggestion_index"`
	SuggestionCache  cache.Stats   `json:"suggestion_cache"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index and service statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var report statsReport
			if report.KeywordDocuments, err = a.keyword.Count(); err != nil {
				return err
			}
			report.VectorDocuments = a.vectors.Count()
			if report.SearchLogRows, err = a.searchLog.Count(cmd.Context()); err != nil {
				return err
			}
			if report.Synonyms, err = a.synonyms.Stats(cmd.Context()); err != nil {
				return err
			}
			report.SuggestionIndex = a.prefixTrie.Stats()
			report.SuggestionCache = a.suggester.CacheStats()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
