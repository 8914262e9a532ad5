// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/deep-research/internal/corpus"
	"github.com/pdiddy/deep-research/pkg/types"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the local document corpus (index, search, stats)",
	Long: `Corpus manages a local SQLite index of Markdown and text documents. When
"corpus" is listed in search.providers, research sessions search it alongside
the online providers.`,
}

// --- index subcommand ---

var corpusIndexCmd = &cobra.Command{
	Use:   "index DIR",
	Short: "Index .md and .txt files under DIR",
	Long: `Index walks DIR and stores every Markdown and text file in the corpus.
YAML front matter may set url, title, source_type, and published. Unchanged
files are skipped on later runs and files removed from DIR are dropped.`,
	Args: cobra.ExactArgs(1),
	RunE: runCorpusIndex,
}

func runCorpusIndex(cmd *cobra.Command, args []string) error {
	store, err := openCorpus(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.Ingest(context.Background(), args[0], cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d document(s) failed indexing", summary.Failed)
	}
	return nil
}

// --- search subcommand ---

var corpusSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search the corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCorpusSearch,
}

func runCorpusSearch(cmd *cobra.Command, args []string) error {
	store, err := openCorpus(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	results, err := store.Search(context.Background(), strings.Join(args, " "), limit)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatCorpusResults(cmd.OutOrStdout(), results, jsonOutput)
}

func formatCorpusResults(w io.Writer, results []corpus.Result, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return nil
	}

	fmt.Fprintf(w, "%-4s  %-5s  %-9s  %-40s  %s\n", "Rank", "Score", "Type", "Title", "Path")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for i, r := range results {
		title := r.Title
		if len([]rune(title)) > 40 {
			title = string([]rune(title)[:37]) + "..."
		}
		fmt.Fprintf(w, "%-4d  %-5.2f  %-9s  %-40s  %s\n", i+1, r.Score, r.SourceType, title, r.Path)
	}
	fmt.Fprintf(w, "\n%d results\n", len(results))
	return nil
}

// --- stats subcommand ---

var corpusStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document counts by source type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCorpus(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := store.Stats(context.Background())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Documents: %d (%d bytes)\n", st.Documents, st.Bytes)
		fmt.Fprintf(w, "Full-text index: %v\n", st.FullText)

		kinds := make([]types.SourceType, 0, len(st.BySource))
		for k := range st.BySource {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-9s %d\n", k, st.BySource[k])
		}
		return nil
	},
}

// --- shared helpers ---

func openCorpus(cmd *cobra.Command) (*corpus.Store, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("corpus-dir"); dir != "" {
		cfg.Corpus.Dir = dir
	}
	return corpus.Open(cfg.Corpus)
}

func init() {
	corpusCmd.PersistentFlags().String("corpus-dir", "", "directory holding corpus.db (overrides corpus.dir)")

	corpusSearchCmd.Flags().Int("limit", 0, "maximum results (0 = use corpus.max_results)")
	corpusSearchCmd.Flags().Bool("json", false, "output results as JSON")

	corpusCmd.AddCommand(corpusIndexCmd)
	corpusCmd.AddCommand(corpusSearchCmd)
	corpusCmd.AddCommand(corpusStatsCmd)

	rootCmd.AddCommand(corpusCmd)
}
