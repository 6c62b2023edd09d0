package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kb/config"
	"kb/internal/adapter/fs"
	"kb/internal/domain"
	"kb/internal/engine"
	"kb/internal/usecase"
)

type queries []string

func (q *queries) String() string     { return strings.Join(*q, "; ") }
func (q *queries) Set(v string) error { *q = append(*q, v); return nil }

func main() {
	var qs queries
	corpus := flag.String("corpus", ".", "Directory of documents to ingest")
	topK := flag.Int("k", 5, "Number of results")
	runs := flag.Int("n", 20, "Search repetitions per query for latency")
	model := flag.String("model", "", "Embedding model (default from config)")
	threshold := flag.Float64("threshold", 0, "Minimum similarity")
	flag.Var(&qs, "q", "Query to test (repeatable)")
	flag.Parse()

	if len(qs) == 0 {
		fmt.Println("Usage: kbbench -corpus ./docs -q \"query\" [-q \"another\"]")
		fmt.Println("\nReports:")
		fmt.Println("  1. Ingestion throughput (documents, chunks, time)")
		fmt.Println("  2. Search latency (p50/p95 over -n runs)")
		fmt.Println("  3. Similarity of the top results")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*corpus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *model != "" {
		if _, ok := cfg.Model(*model); !ok {
			fmt.Fprintf(os.Stderr, "Unknown model: %s\n", *model)
			os.Exit(1)
		}
		cfg.Defaults.EmbeddingModel = *model
	}
	cfg.Defaults.SimilarityThreshold = *threshold
	cfg.Cache.CompactionInterval = 0

	// Namespaces go to a scratch project so the corpus's own store is untouched.
	scratch, err := os.MkdirTemp("", "kbbench-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating scratch dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(scratch)
	cfg.Store.Path = filepath.Join(scratch, "bench.db")

	e, err := engine.New(cfg, scratch, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	if _, err := e.Service.CreateKnowledgeBase(usecase.CreateKnowledgeBaseRequest{ID: "bench"}); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating namespace: %v\n", err)
		os.Exit(1)
	}

	files, err := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes, cfg.Index.MaxFileBytes).Walk(*corpus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning corpus: %v\n", err)
		os.Exit(1)
	}
	docs := make([]domain.Document, len(files))
	for i, f := range files {
		docs[i] = domain.Document{ID: f.RelPath, Path: f.Path}
	}

	ctx := context.Background()
	start := time.Now()
	batch := e.Service.AddDocuments(ctx, "bench", docs)
	ingest := time.Since(start)
	stats, _ := e.Service.GetStats("bench")

	fmt.Println("SEMANTIC SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Model: %s (%s)\n", cfg.Defaults.EmbeddingModel, cfg.Embedding.Provider)
	fmt.Printf("Documents: %d indexed, %d failed\n", batch.SuccessCount, batch.FailureCount)
	fmt.Printf("Chunks: %d\n", stats.ChunkCount)
	fmt.Printf("Ingestion: %v", ingest.Round(time.Millisecond))
	if ingest > 0 {
		fmt.Printf(" (%.1f chunks/s)", float64(stats.ChunkCount)/ingest.Seconds())
	}
	fmt.Println()
	fmt.Println()

	if stats.ChunkCount == 0 {
		fmt.Fprintln(os.Stderr, "Nothing indexed; check index.includes in the config")
		os.Exit(1)
	}

	for _, q := range qs {
		benchQuery(ctx, e, q, *topK, *runs)
	}
}

func benchQuery(ctx context.Context, e *engine.Engine, query string, topK, runs int) {
	fmt.Printf("Query: \"%s\"\n", query)
	fmt.Println(strings.Repeat("-", 70))

	opts := domain.SearchOptions{TopK: topK, IncludeMetadata: true}
	var results []domain.RetrievalResult
	latencies := make([]time.Duration, 0, runs)
	for i := 0; i < max(runs, 1); i++ {
		start := time.Now()
		r, err := e.Service.SearchDocuments(ctx, "bench", query, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
			return
		}
		latencies = append(latencies, time.Since(start))
		results = r
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	if len(results) == 0 {
		fmt.Println("No results above threshold.")
		fmt.Println()
		return
	}

	totalScore := 0.0
	for i, r := range results {
		preview := strings.ReplaceAll(r.Chunk.Content, "\n", " ")
		if runes := []rune(preview); len(runes) > 150 {
			preview = string(runes[:150]) + "..."
		}
		totalScore += r.Score
		fmt.Printf("%d. [%s %.3f] %s\n", i+1, rating(r.Score), r.Score, r.Chunk.ID)
		fmt.Printf("   %s\n\n", preview)
	}

	avgScore := totalScore / float64(len(results))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Score)
	fmt.Printf("  Latency p50:        %v\n", percentile(latencies, 0.50))
	fmt.Printf("  Latency p95:        %v\n", percentile(latencies, 0.95))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println()
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return sorted[i].Round(time.Microsecond)
}
