package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/watchpost/internal/config"
	"github.com/kozaktomas/watchpost/internal/constants"
	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

var replayCmd = &cobra.Command{
	Use:   "replay <observations.jsonl>",
	Short: "Replay recorded observations through the pipeline",
	Long: `Replay a JSON Lines file of observations through a fresh pipeline, in file
order, using each line's observed_at for cooldowns. Use "-" to read stdin.

Each line is an observation:
  {"embedding": [0.1, ...], "observed_at": "2026-01-02T15:04:05Z", "source": "door-1"}

Useful for tuning MATCH_THRESHOLD and ALERT_THRESHOLD against recorded traffic.

Examples:
  # Summarise a recording
  watchpost replay recording.jsonl

  # Print every alert and store events in the history database
  watchpost replay recording.jsonl --alerts --record

  # JSON summary
  watchpost replay recording.jsonl --json`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().Int("workers", constants.ReplayWorkers, "Number of parallel decoders")
	replayCmd.Flags().Bool("alerts", false, "Print each alert as it is raised")
	replayCmd.Flags().Bool("record", false, "Store events in the history database (HISTORY_DB_PATH)")
	replayCmd.Flags().Bool("json", false, "Output summary as JSON instead of progress bar")
}

// ReplayResult summarises a replay run.
type ReplayResult struct {
	Success       bool   `json:"success"`
	Lines         int    `json:"lines"`
	Observations  int64  `json:"observations"`
	Malformed     int64  `json:"malformed"`
	Matched       int64  `json:"matched"`
	Unknown       int64  `json:"unknown"`
	Alerts        int64  `json:"alerts"`
	Suppressed    int64  `json:"suppressed_alerts"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

// replayLine is one decoded input line; err is set for lines that did not parse.
type replayLine struct {
	obs pipeline.Observation
	err error
}

func runReplay(cmd *cobra.Command, args []string) error {
	workers := mustGetInt(cmd, "workers")
	printAlerts := mustGetBool(cmd, "alerts")
	record := mustGetBool(cmd, "record")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	startTime := time.Now()

	lines, err := readLines(args[0])
	if err != nil {
		return err
	}
	decoded, err := decodeObservations(ctx, lines, workers)
	if err != nil {
		return err
	}

	backend, err := openIdentityBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	p := newPipeline(cfg, nil)
	if record {
		history, err := openHistory(cfg)
		if err != nil {
			return err
		}
		if history == nil {
			return errors.New("--record requires HISTORY_DB_PATH")
		}
		defer history.Close()
		p.AddSink(database.NewHistorySink(history))
	}
	if printAlerts {
		p.AddSink(pipeline.SinkFuncs{Alert: func(_ context.Context, ev pipeline.AlertEvent) error {
			fmt.Printf("%s  ALERT %-24s %-9s %3d%%  %s\n",
				ev.ObservedAt.Format(time.RFC3339), ev.DisplayName, ev.RiskTag, ev.ConfidencePct, ev.Source)
			return nil
		}})
	}
	if _, err := loadRegistry(ctx, p); err != nil {
		return fmt.Errorf("loading identities: %w", err)
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput && !printAlerts {
		bar = progressbar.NewOptions(len(decoded),
			progressbar.OptionSetDescription("Replaying"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("obs"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	// Cooldowns depend on order, so observations run sequentially.
	var undecodable int64
	for i, line := range decoded {
		if line.err != nil {
			undecodable++
			log.Debug("skipping line", "line", i+1, "err", line.err)
		} else if _, err := p.OnObservation(ctx, line.obs); err != nil {
			log.Debug("rejected observation", "line", i+1, "err", err)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	stats := p.Stats()
	duration := time.Since(startTime)
	result := ReplayResult{
		Success:       true,
		Lines:         len(lines),
		Observations:  stats.Observations,
		Malformed:     stats.Malformed + undecodable,
		Matched:       stats.Matched,
		Unknown:       stats.Unknown,
		Alerts:        stats.Alerts,
		Suppressed:    stats.SuppressedAlerts,
		DurationMs:    duration.Milliseconds(),
		DurationHuman: duration.Round(time.Millisecond).String(),
	}
	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("Replay complete in %s\n", result.DurationHuman)
	fmt.Printf("  Lines:       %d\n", result.Lines)
	fmt.Printf("  Matched:     %d\n", result.Matched)
	fmt.Printf("  Unknown:     %d\n", result.Unknown)
	fmt.Printf("  Malformed:   %d\n", result.Malformed)
	fmt.Printf("  Alerts:      %d\n", result.Alerts)
	fmt.Printf("  Suppressed:  %d\n", result.Suppressed)
	return nil
}

// readLines returns the non-blank lines of path, or of stdin when path is "-".
func readLines(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening observations: %w", err)
		}
		defer f.Close()
		r = f
	}

	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), constants.MaxReplayLineSize)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading observations: %w", err)
	}
	return lines, nil
}

// decodeObservations parses lines in parallel, keeping input order.
func decodeObservations(ctx context.Context, lines []string, workers int) ([]replayLine, error) {
	if workers <= 0 {
		workers = 1
	}
	out := make([]replayLine, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, line := range lines {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var obs pipeline.Observation
			if err := json.Unmarshal([]byte(line), &obs); err != nil {
				out[i] = replayLine{err: err}
				return nil
			}
			out[i] = replayLine{obs: obs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
