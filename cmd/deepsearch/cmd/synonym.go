package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhailiang23/deep-search-sub000/internal/synonym"
)

func newSynonymCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synonym",
		Short: "Maintain the synonym dictionary",
	}
	cmd.AddCommand(newSynonymAddCmd())
	cmd.AddCommand(newSynonymListCmd())
	cmd.AddCommand(newSynonymScaleCmd())
	cmd.AddCommand(newSynonymEnableCmd())
	return cmd
}

func newSynonymAddCmd() *cobra.Command {
	var category string
	var confidence float64
	var oneWay bool

	cmd := &cobra.Command{
		Use:   "add <term> <synonym>",
		Short: "Add a synonym entry",
		Long: `Add a synonym entry. Entries are bidirectional unless --one-way
is set, and start enabled.

Examples:
  deepsearch synonym add 房贷 住房贷款 --category PRODUCT --confidence 0.95
  deepsearch synonym add 网银 网上银行 --one-way`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.synonyms.Add(cmd.Context(), synonym.Record{
				Term:          args[0],
				Synonym:       args[1],
				Category:      category,
				Confidence:    confidence,
				Bidirectional: !oneWay,
				Enabled:       true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added synonym entry %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Entry category (e.g. PRODUCT, SERVICE)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.9, "Entry confidence in [0,1]")
	cmd.Flags().BoolVar(&oneWay, "one-way", false, "Map term to synonym only, not back")
	return cmd
}

func newSynonymListCmd() *cobra.Command {
	var limit int
	var lowBelow float64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List synonym entries",
		Long: `List the most-used synonym entries, or the low-confidence ones
with --below.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var recs []synonym.Record
			if cmd.Flags().Changed("below") {
				recs, err = a.synonyms.LowConfidence(cmd.Context(), lowBelow, limit)
			} else {
				recs, err = a.synonyms.Popular(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			for _, r := range recs {
				direction := "<->"
				if !r.Bidirectional {
					direction = "->"
				}
				state := ""
				if !r.Enabled {
					state = "  (disabled)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%4d  %s %s %s  conf=%.2f used=%d%s\n",
					r.ID, r.Term, direction, r.Synonym, r.Confidence, r.UsageCount, state)
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no entries")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	cmd.Flags().Float64Var(&lowBelow, "below", 0.5, "List entries with confidence below this bound")
	return cmd
}

func newSynonymScaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scale <factor>",
		Short: "Scale every entry's confidence",
		Long: `Multiply every entry's confidence by factor, clamped to [0,1].
Useful for decaying stale dictionaries before re-tuning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var factor float64
			if _, err := fmt.Sscanf(args[0], "%f", &factor); err != nil {
				return fmt.Errorf("invalid factor %q: %w", args[0], err)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.synonyms.ScaleAllConfidence(cmd.Context(), factor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scaled %d entries by %.2f\n", n, factor)
			return nil
		},
	}
	return cmd
}

func newSynonymEnableCmd() *cobra.Command {
	var disable bool

	cmd := &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable or disable one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.synonyms.SetEnabled(cmd.Context(), id, !disable); err != nil {
				return err
			}
			state := "enabled"
			if disable {
				state = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entry %d %s\n", id, state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&disable, "off", false, "Disable the entry instead")
	return cmd
}
