package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhailiang23/deep-search-sub000/internal/store"
)

func newIndexCmd() *cobra.Command {
	var space string
	var channel string

	cmd := &cobra.Command{
		Use:   "index <documents.json>",
		Short: "Index documents into both search channels",
		Long: `Index documents from a JSON file into the keyword and vector
indexes. The file holds an array of documents:

  [{"id": "doc-1", "title": "...", "content": "...",
    "summary": "...", "category": "...",
    "space_id": "bank-a", "channel": "mobile",
    "created_at": "2026-05-01T00:00:00Z"}]

Documents with an existing id are replaced. --space and --channel
fill in those fields for entries that omit them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, args[0], space, channel)
		},
	}

	cmd.Flags().StringVar(&space, "space", "", "Default search space for entries without one")
	cmd.Flags().StringVar(&channel, "channel", "", "Default content channel for entries without one")
	return cmd
}

func runIndex(cmd *cobra.Command, path, space, channel string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read documents %s: %w", path, err)
	}
	var entries []store.IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse documents %s: %w", path, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no documents in %s", path)
	}
	for i := range entries {
		if entries[i].ID == "" {
			return fmt.Errorf("document %d has no id", i)
		}
		if entries[i].SpaceID == "" {
			entries[i].SpaceID = space
		}
		if entries[i].Channel == "" {
			entries[i].Channel = channel
		}
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.keyword.Index(ctx, entries); err != nil {
		return err
	}
	if err := a.vectors.Index(ctx, entries); err != nil {
		return err
	}
	if err := a.saveVectors(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents\n", len(entries))
	return nil
}
