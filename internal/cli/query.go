package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"kb/internal/adapter/fs"
	"kb/internal/domain"
	"kb/internal/usecase"
)

var (
	queryText       string
	queryTopK       int
	queryThreshold  float64
	queryJSON       bool
	queryHighlight  bool
	queryMetadata   bool
	queryFilters    map[string]string
	queryAutoCreate bool
	queryQuiet      bool
)

var queryCmd = &cobra.Command{
	Use:   "query <namespace> [path]",
	Short: "Ingest files into a namespace and search them",
	Long: `Walk path (default: the project directory), add every matching file to
the namespace and run a semantic search over the result.

Examples:
  kb query docs ./notes -q "how do we deploy"
  kb query docs -q "vacation policy" --top-k 3 --highlight
  kb query docs ./notes -q "oncall" --filter source=/abs/path/oncall.md --json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from namespace config)")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0, "minimum similarity (default from namespace config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryHighlight, "highlight", false, "show matching terms")
	queryCmd.Flags().BoolVar(&queryMetadata, "metadata", false, "include chunk metadata")
	queryCmd.Flags().StringToStringVar(&queryFilters, "filter", nil, "metadata equality filter, key=value")
	queryCmd.Flags().BoolVar(&queryAutoCreate, "auto-create", false, "create the namespace if it does not exist")
	queryCmd.Flags().BoolVar(&queryQuiet, "quiet", false, "no progress bar")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	namespace := args[0]
	path := rootDir
	if len(args) > 1 {
		path = args[1]
	}
	if queryAutoCreate {
		cfg.Engine.AutoCreateNamespaces = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	walker := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes, cfg.Index.MaxFileBytes)
	files, err := walker.Walk(path)
	if err != nil {
		return fmt.Errorf("failed to scan files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no files matched in %s", path)
	}

	docs := make([]domain.Document, len(files))
	for i, f := range files {
		docs[i] = domain.Document{ID: f.RelPath, Name: f.RelPath, Path: f.Path}
	}

	start := time.Now()
	var opts []usecase.BatchOption
	if !queryQuiet && !queryJSON {
		opts = append(opts, usecase.WithProgress(progressCallback()))
	}
	batch := e.Service.AddDocuments(ctx, namespace, docs, opts...)
	if batch.SuccessCount == 0 {
		return fmt.Errorf("no documents were indexed: %s", firstError(batch))
	}

	search := domain.SearchOptions{
		TopK:             queryTopK,
		IncludeMetadata:  queryMetadata,
		HighlightMatches: queryHighlight,
	}
	if cmd.Flags().Changed("threshold") {
		search.SimilarityThreshold = &queryThreshold
	}
	if len(queryFilters) > 0 {
		search.Filters = make(map[string]any, len(queryFilters))
		for k, v := range queryFilters {
			search.Filters[k] = v
		}
	}

	results, err := e.Service.SearchDocuments(ctx, namespace, queryText, search)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(struct {
			Batch   domain.BatchProcessResult `json:"batch"`
			Results []domain.RetrievalResult  `json:"results"`
		}{batch, results}, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	stats, _ := e.Service.GetStats(namespace)
	fmt.Printf("Indexed %d/%d documents (%d chunks) in %v\n",
		batch.SuccessCount, batch.TotalDocuments, stats.ChunkCount, time.Since(start).Round(time.Millisecond))
	for _, r := range batch.Results {
		if !r.Success {
			fmt.Fprintf(os.Stderr, "  skipped %s: %s\n", r.DocumentID, r.Error)
		}
	}
	fmt.Println()

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), queryText)
	for i, r := range results {
		fmt.Printf("--- [%d] %s (score: %.3f) ---\n", i+1, r.Chunk.ID, r.Score)
		if queryMetadata {
			m := r.Chunk.Metadata
			fmt.Printf("source: %s  chars %d-%d\n", m.Source, m.StartChar, m.EndChar)
		}
		fmt.Println(truncate(r.Chunk.Content, 500))
		if len(r.Highlights) > 0 {
			terms := make([]string, len(r.Highlights))
			for j, h := range r.Highlights {
				terms[j] = h.Text
			}
			fmt.Printf("matches: %s\n", strings.Join(terms, ", "))
		}
		fmt.Println()
	}
	return nil
}

func progressCallback() usecase.ProgressFunc {
	var bar *progressbar.ProgressBar
	var barMu sync.Mutex

	return func(processed, total int, documentID string) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}
		bar.Set(processed)
	}
}

func firstError(batch domain.BatchProcessResult) string {
	for _, r := range batch.Results {
		if r.Error != "" {
			return r.Error
		}
	}
	return "unknown error"
}

// truncate shortens s to at most n characters, never splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
