package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhailiang23/deep-search-sub000/internal/vector"
)

func newSimilarCmd() *cobra.Command {
	var topK int
	var algorithm string
	var threshold float64
	var ann bool
	var clusters int
	var format string

	cmd := &cobra.Command{
		Use:   "similar <doc-id>",
		Short: "Find documents similar to an indexed document",
		Long: `Score the stored embeddings against one document's embedding.

By default every stored vector is scored exactly on the worker pool.
--ann uses the locality-sensitive pre-filter before exact re-scoring,
and --clusters groups the results into similarity bands.

Examples:
  deepsearch similar doc-1 --top 5
  deepsearch similar doc-1 --algorithm euclidean --threshold 0.5
  deepsearch similar doc-1 --ann
  deepsearch similar doc-1 --clusters 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimilar(cmd, args[0], similarOptions{
				topK:      topK,
				algorithm: vector.Algorithm(algorithm),
				threshold: threshold,
				ann:       ann,
				clusters:  clusters,
				format:    format,
			})
		},
	}

	cmd.Flags().IntVar(&topK, "top", 10, "Number of similar documents")
	cmd.Flags().StringVar(&algorithm, "algorithm", string(vector.Cosine),
		"Similarity algorithm: cosine, euclidean, dot_product, manhattan, jaccard")
	cmd.Flags().Float64Var(&threshold, "threshold", -1, "Similarity cut-off (negative uses the configured default)")
	cmd.Flags().BoolVar(&ann, "ann", false, "Use the approximate pre-filter before exact re-scoring")
	cmd.Flags().IntVar(&clusters, "clusters", 0, "Group results into this many similarity bands")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

type similarOptions struct {
	topK      int
	algorithm vector.Algorithm
	threshold float64
	ann       bool
	clusters  int
	format    string
}

func runSimilar(cmd *cobra.Command, docID string, opts similarOptions) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := vector.NewEngine(a.vectors, vector.Config{
		BatchSize:        a.cfg.Vector.BatchSize,
		DefaultThreshold: a.cfg.Vector.Threshold,
		Workers:          a.cfg.Vector.Workers,
	}, a.logger)
	if err != nil {
		return err
	}
	defer engine.Release()

	ctx := cmd.Context()
	queryVec, ok, err := a.vectors.ByID(ctx, docID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("document %s has no stored embedding", docID)
	}

	out := cmd.OutOrStdout()
	switch {
	case opts.clusters > 0:
		grouped := engine.ClusterAnalysis(ctx, queryVec, opts.clusters, opts.threshold)
		if opts.format == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(grouped)
		}
		for name, results := range grouped {
			fmt.Fprintf(out, "%s (%d documents)\n", name, len(results))
			printSimilarResults(cmd, results, docID)
		}
	case opts.ann:
		printOrEncode(cmd, engine.ANNSearch(ctx, queryVec, opts.topK), docID, opts.format)
	default:
		printOrEncode(cmd, engine.BatchSearch(ctx, queryVec, opts.topK, opts.algorithm, opts.threshold), docID, opts.format)
	}
	return nil
}

func printOrEncode(cmd *cobra.Command, results []vector.Result, selfID, format string) {
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
		return
	}
	printSimilarResults(cmd, results, selfID)
}

func printSimilarResults(cmd *cobra.Command, results []vector.Result, selfID string) {
	out := cmd.OutOrStdout()
	printed := 0
	for _, r := range results {
		if r.DocumentID == selfID {
			continue
		}
		fmt.Fprintf(out, "  %-24s %.4f (%s)\n", r.DocumentID, r.Similarity, r.Algorithm)
		printed++
	}
	if printed == 0 {
		fmt.Fprintln(out, "  no similar documents")
	}
}
