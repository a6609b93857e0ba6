package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/watchpost/internal/config"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

var matchCmd = &cobra.Command{
	Use:   "match [embedding]",
	Short: "Match a single embedding against the identity registry",
	Long: `Match one face embedding against the configured identity source and print
the outcome. The embedding is a comma separated list of floats, given as an
argument or read from --file.

Each run starts with empty cooldowns, so a high-risk match always alerts.

Examples:
  # Match an embedding
  watchpost match "0.12,-0.03,0.44,..."

  # Read it from a file and print JSON
  watchpost match --file probe.txt --json

  # Try a stricter threshold
  watchpost match --file probe.txt --threshold 0.45`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("file", "", "Read the embedding from a file")
	matchCmd.Flags().Float64("threshold", 0, "Match threshold (overrides MATCH_THRESHOLD)")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runMatch(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	file := mustGetString(cmd, "file")

	var raw string
	switch {
	case len(args) == 1:
		raw = args[0]
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading embedding: %w", err)
		}
		raw = string(data)
	default:
		return errors.New("an embedding argument or --file is required")
	}
	embedding, err := parseEmbedding(raw)
	if err != nil {
		return err
	}

	cfg := config.Load()
	if threshold := mustGetFloat64(cmd, "threshold"); threshold > 0 {
		cfg.Matching.MatchThreshold = threshold
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := context.Background()
	backend, err := openIdentityBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	p := newPipeline(cfg, nil)
	if _, err := loadRegistry(ctx, p); err != nil {
		return fmt.Errorf("loading identities: %w", err)
	}

	start := time.Now()
	outcome, err := p.OnObservation(ctx, pipeline.Observation{Embedding: embedding, Source: "cli"})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if jsonOutput {
		return outputJSON(outcome)
	}
	printOutcome(outcome, elapsed)
	return nil
}

func printOutcome(outcome pipeline.Outcome, elapsed time.Duration) {
	m := outcome.Match
	fmt.Printf("Label:      %s\n", m.BestLabel)
	if m.Matched {
		fmt.Printf("Identity:   %s (%s)\n", m.DisplayName, m.RiskTag)
	} else if m.NearestID != "" {
		fmt.Printf("Nearest:    %s\n", m.NearestID)
	}
	if m.Distance != nil {
		fmt.Printf("Distance:   %.4f\n", *m.Distance)
		fmt.Printf("Confidence: %d%%\n", pipeline.ConfidencePercent(m.Confidence))
	} else {
		fmt.Println("Distance:   n/a (registry is empty)")
	}
	if outcome.Alert != nil {
		fmt.Printf("\nALERT: %s [%s] recognised with %d%% confidence\n",
			outcome.Alert.DisplayName, outcome.Alert.RiskTag, outcome.Alert.ConfidencePct)
	}
	fmt.Printf("\nMatched in %s\n", elapsed)
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
