package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kb/internal/domain"
	"kb/internal/usecase"
)

var (
	nsName        string
	nsDescription string
	nsChunkSize   int
	nsOverlap     int
	nsModel       string
	nsThreshold   float64
	nsMaxResults  int
	nsJSON        bool
)

var createCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create a knowledge base namespace",
	Long: `Create a namespace. Settings not given on the command line take the
defaults from the config file.

Examples:
  kb create docs
  kb create handbook --name "Team handbook" --chunk-size 500 --chunk-overlap 50`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List namespaces",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a namespace",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var configCmd = &cobra.Command{
	Use:   "config <id>",
	Short: "Show or change a namespace's settings",
	Long: `Without flags, print the namespace's settings. With flags, update them.

Examples:
  kb config docs
  kb config docs --threshold 0.5 --max-results 20`,
	Args: cobra.ExactArgs(1),
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(createCmd, listCmd, deleteCmd, configCmd)

	createCmd.Flags().StringVar(&nsName, "name", "", "display name")
	createCmd.Flags().StringVar(&nsDescription, "description", "", "description")
	for _, c := range []*cobra.Command{createCmd, configCmd} {
		c.Flags().IntVar(&nsChunkSize, "chunk-size", 0, "chunk size in characters")
		c.Flags().IntVar(&nsOverlap, "chunk-overlap", 0, "overlap between chunks in characters")
		c.Flags().StringVar(&nsModel, "model", "", "embedding model name")
		c.Flags().Float64Var(&nsThreshold, "threshold", 0, "minimum similarity score")
		c.Flags().IntVar(&nsMaxResults, "max-results", 0, "default number of results")
	}
	listCmd.Flags().BoolVar(&nsJSON, "json", false, "output as JSON")
	configCmd.Flags().BoolVar(&nsJSON, "json", false, "output as JSON")
}

// configPatch collects the settings flags the user actually passed.
func configPatch(cmd *cobra.Command) domain.KnowledgeBaseConfigPatch {
	var p domain.KnowledgeBaseConfigPatch
	flags := cmd.Flags()
	if flags.Changed("chunk-size") {
		p.ChunkSize = &nsChunkSize
	}
	if flags.Changed("chunk-overlap") {
		p.ChunkOverlap = &nsOverlap
	}
	if flags.Changed("model") {
		p.EmbeddingModel = &nsModel
	}
	if flags.Changed("threshold") {
		p.SimilarityThreshold = &nsThreshold
	}
	if flags.Changed("max-results") {
		p.MaxResults = &nsMaxResults
	}
	return p
}

func patchEmpty(p domain.KnowledgeBaseConfigPatch) bool {
	return p.ChunkSize == nil && p.ChunkOverlap == nil && p.EmbeddingModel == nil &&
		p.SimilarityThreshold == nil && p.MaxResults == nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ns, err := e.Service.CreateKnowledgeBase(usecase.CreateKnowledgeBaseRequest{
		ID:          args[0],
		Name:        nsName,
		Description: nsDescription,
		Config:      configPatch(cmd),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created namespace %s\n", ns.ID)
	printConfig(ns.Config)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	namespaces := e.Service.ListNamespaces()
	if nsJSON {
		output, _ := json.MarshalIndent(namespaces, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	if len(namespaces) == 0 {
		fmt.Println("No namespaces. Create one with 'kb create <id>'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODEL\tCHUNK\tCREATED")
	for _, ns := range namespaces {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			ns.ID, ns.Name, ns.Config.EmbeddingModel,
			ns.Config.ChunkSize, ns.Config.ChunkOverlap,
			ns.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ok, err := e.Service.DeleteKnowledgeBase(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("namespace %q not found", args[0])
	}
	fmt.Printf("Deleted namespace %s\n", args[0])
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	id := args[0]
	if patch := configPatch(cmd); !patchEmpty(patch) {
		ok, err := e.Service.UpdateKnowledgeBaseConfig(id, patch)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("namespace %q not found", id)
		}
	}

	ns, ok := e.Service.GetNamespace(id)
	if !ok {
		return fmt.Errorf("namespace %q not found", id)
	}
	if nsJSON {
		output, _ := json.MarshalIndent(ns, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	fmt.Printf("Namespace %s", ns.ID)
	if ns.Name != "" {
		fmt.Printf(" (%s)", ns.Name)
	}
	fmt.Println()
	if ns.Description != "" {
		fmt.Printf("  %s\n", ns.Description)
	}
	printConfig(ns.Config)
	return nil
}

func printConfig(c domain.KnowledgeBaseConfig) {
	fmt.Printf("  chunk size:     %d\n", c.ChunkSize)
	fmt.Printf("  chunk overlap:  %d\n", c.ChunkOverlap)
	fmt.Printf("  model:          %s\n", c.EmbeddingModel)
	fmt.Printf("  threshold:      %.2f\n", c.SimilarityThreshold)
	fmt.Printf("  max results:    %d\n", c.MaxResults)
}
