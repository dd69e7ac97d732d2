package main

import (
	"fmt"
	"os"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/spf13/cobra"
)

var (
	indexDataset    string
	indexCollection string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index a JSONL dataset into the knowledge base",
	Long: `Index question/answer records into a collection of the persistent store.

Each line of the dataset is a JSON object with "question", "answer",
"source_type", "source_id" and optional "tags". Records already in the
collection are skipped, so a dataset can be indexed again after edits.

Examples:
  beaglemind index --dataset beagleboard.jsonl
  beaglemind index --dataset forum.jsonl -c forum`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexDataset, "dataset", "", "JSONL dataset to index")
	indexCmd.Flags().StringVarP(&indexCollection, "collection", "c", "", "target collection (default from config)")
	_ = indexCmd.MarkFlagRequired("dataset")
}

func runIndex(cmd *cobra.Command, args []string) error {
	resolver, err := newResolver()
	if err != nil {
		return err
	}

	var ov config.Overrides
	if indexCollection != "" {
		ov.Collection = &indexCollection
	}
	cfg, err := resolver.Load(ov)
	if err != nil {
		return err
	}
	if cfg.IndexPath == "" {
		return &config.ConfigError{Field: "index_path", Reason: "set index_path in the config file or BEAGLEMIND_INDEX_PATH to index into a persistent store"}
	}

	store, err := retrieval.OpenStore(cfg.StoreOptions())
	if err != nil {
		return err
	}

	report, err := retrieval.NewIndexer(store).IndexFile(cmd.Context(), cfg.Collection, indexDataset)
	if err != nil {
		return err
	}

	for _, bad := range report.BadLines {
		fmt.Fprintln(os.Stderr, warningStyle.Render("Skipped "+bad.Error()))
	}
	total, _ := store.Count(cfg.Collection)
	fmt.Println(okStyle.Render(fmt.Sprintf("Indexed %d new chunks into %q", report.Added, cfg.Collection)) +
		infoStyle.Render(fmt.Sprintf(" (%d already present, %d bad lines, %d total)", report.Skipped, len(report.BadLines), total)))
	return nil
}
