package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quadra0/quadra/internal/app"
	"github.com/quadra0/quadra/internal/config"
	"github.com/quadra0/quadra/internal/knowledge"
)

// maxIngestLine bounds one JSONL line; question plus answer plus
// metadata fits comfortably below this.
const maxIngestLine = 1 << 20

var ingestCmd = &cobra.Command{
	Use:   "ingest [file.jsonl]",
	Short: "Load question/answer documents from a JSONL file into the knowledge base",
	Long: `Reads one JSON document per line and embeds it into the knowledge
base. Each line must carry at least "question" and "answer"; "topic"
and "difficulty" are optional. Documents are tagged source=ingested
and deduplicated on the question text.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

// ingestDoc is one JSONL line.
type ingestDoc struct {
	Question   string            `json:"question"`
	Answer     string            `json:"answer"`
	Topic      string            `json:"topic"`
	Difficulty string            `json:"difficulty"`
	Metadata   map[string]string `json:"metadata"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	ctx := cmd.Context()
	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var (
		line     int
		ingested int
		skipped  int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxIngestLine)
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var doc ingestDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			logger.Warn("skipping unparsable line", "line", line, "error", err)
			skipped++
			continue
		}

		_, err := a.Knowledge.Add(ctx, knowledge.Document{
			Question:   doc.Question,
			Answer:     doc.Answer,
			Topic:      doc.Topic,
			Difficulty: doc.Difficulty,
			Source:     knowledge.SourceIngested,
			Metadata:   doc.Metadata,
		})
		if err != nil {
			logger.Warn("skipping document", "line", line, "error", err)
			skipped++
			continue
		}
		ingested++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Printf("ingested %d documents (%d skipped)\n", ingested, skipped)
	return nil
}
