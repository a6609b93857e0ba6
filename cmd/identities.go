package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/watchpost/internal/config"
	"github.com/kozaktomas/watchpost/internal/constants"
	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/identityfile"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Manage the identity source",
	Long:  "Commands for listing, importing and exporting known identities.",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities from the configured source",
	Long: `List identities from the configured source, flagging those the registry
would exclude.

Examples:
  # All identities
  watchpost identities list

  # Only banned identities, as JSON
  watchpost identities list --risk-tag banned --json`,
	RunE: runIdentitiesList,
}

var identitiesImportCmd = &cobra.Command{
	Use:   "import <identities.yaml>",
	Short: "Import identities from a YAML file into the configured source",
	Long: `Import identities from a YAML file. Existing identities with the same id are
replaced, including their reference embeddings. The source must be writable
(postgres or file).

Examples:
  # Preview
  watchpost identities import identities.yaml --dry-run

  # Import into PostgreSQL
  IDENTITY_SOURCE=postgres watchpost identities import identities.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentitiesImport,
}

var identitiesExportCmd = &cobra.Command{
	Use:   "export <identities.yaml>",
	Short: "Export identities from the configured source to a YAML file",
	Long: `Export identities with their reference embeddings to a YAML file usable as
IDENTITY_FILE. Handy for moving off the legacy MariaDB source.

Examples:
  IDENTITY_SOURCE=mariadb watchpost identities export identities.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentitiesExport,
}

var identitiesNearestCmd = &cobra.Command{
	Use:   "nearest <embedding>",
	Short: "Show the reference embeddings closest to an embedding (PostgreSQL)",
	Long: `Query pgvector for the reference embeddings nearest to an embedding. This
bypasses the in-memory registry and is meant for diagnosing unexpected matches.

Examples:
  watchpost identities nearest "0.12,-0.03,0.44,..." --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentitiesNearest,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd, identitiesImportCmd, identitiesExportCmd, identitiesNearestCmd)

	identitiesListCmd.Flags().String("name", "", "Only list identities with this display name (case and diacritics ignored)")
	identitiesListCmd.Flags().String("risk-tag", "", "Only list identities with this risk tag")
	identitiesListCmd.Flags().Bool("json", false, "Output as JSON")

	identitiesImportCmd.Flags().Bool("dry-run", false, "Validate the file without writing")

	identitiesNearestCmd.Flags().Int("limit", constants.DefaultNearestLimit, "Number of references to show")
	identitiesNearestCmd.Flags().Bool("json", false, "Output as JSON")
}

// IdentitySummary is one row of identities list.
type IdentitySummary struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	RiskTag     facematch.RiskTag `json:"risk_tag"`
	References  int               `json:"references"`
	Excluded    string            `json:"excluded,omitempty"`
}

func openConfiguredBackend(ctx context.Context) (*config.Config, *identityBackend, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	backend, err := openIdentityBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, backend, nil
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	tag, err := facematch.ParseRiskTag(mustGetString(cmd, "risk-tag"))
	if err != nil {
		return err
	}
	filterTag := mustGetString(cmd, "risk-tag") != ""

	ctx := context.Background()
	cfg, backend, err := openConfiguredBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	var identities []facematch.Identity
	if name := mustGetString(cmd, "name"); name != "" {
		identities, err = database.FindIdentitiesByName(ctx, backend.reader, name)
	} else {
		identities, err = backend.reader.ListIdentities(ctx)
	}
	if err != nil {
		return fmt.Errorf("listing identities: %w", err)
	}

	_, report := facematch.BuildRegistry(identities, facematch.BuildOptions{Dim: cfg.Matching.Dim})
	excluded := make(map[string]string, len(report.Excluded))
	for _, ex := range report.Excluded {
		if _, seen := excluded[ex.ID]; !seen {
			excluded[ex.ID] = string(ex.Reason)
		}
	}

	summaries := make([]IdentitySummary, 0, len(identities))
	for _, ident := range identities {
		if filterTag && ident.RiskTag != tag {
			continue
		}
		summaries = append(summaries, IdentitySummary{
			ID:          ident.ID,
			DisplayName: ident.DisplayName,
			RiskTag:     ident.RiskTag,
			References:  len(ident.ReferenceEmbeddings),
			Excluded:    excluded[ident.ID],
		})
	}

	if jsonOutput {
		return outputJSON(summaries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRISK\tREFS\tNOTE")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.DisplayName, s.RiskTag, s.References, s.Excluded)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d identities (%d usable for matching)\n", len(summaries), report.Included)
	return nil
}

func runIdentitiesImport(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")

	identities, err := identityfile.Load(args[0])
	if err != nil {
		return err
	}
	if identities == nil {
		return fmt.Errorf("%s does not exist", args[0])
	}

	ctx := context.Background()
	cfg, backend, err := openConfiguredBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	var invalid int
	for _, ident := range identities {
		for i, emb := range ident.ReferenceEmbeddings {
			if err := facematch.CheckEmbedding(emb, cfg.Matching.Dim); err != nil {
				log.Warn("invalid reference embedding", "id", ident.ID, "index", i, "err", err)
				invalid++
			}
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d invalid reference embeddings, nothing imported", invalid)
	}
	if dryRun {
		fmt.Printf("%d identities are valid (dry run, nothing written)\n", len(identities))
		return nil
	}

	writer, err := database.GetIdentityWriter(ctx)
	if err != nil {
		return err
	}
	for _, ident := range identities {
		if ident.ReferenceEmbeddings == nil {
			ident.ReferenceEmbeddings = [][]float32{}
		}
		if err := writer.SaveIdentity(ctx, ident); err != nil {
			return fmt.Errorf("saving identity %s: %w", ident.ID, err)
		}
	}
	fmt.Printf("Imported %d identities into %s\n", len(identities), backend.name)
	return nil
}

func runIdentitiesExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, backend, err := openConfiguredBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	if backend.file != nil && backend.file.Path() == args[0] {
		return errors.New("export target is the identity file itself")
	}

	identities, err := backend.reader.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("listing identities: %w", err)
	}
	if err := identityfile.Write(args[0], identities); err != nil {
		return err
	}
	fmt.Printf("Exported %d identities to %s\n", len(identities), args[0])
	return nil
}

func runIdentitiesNearest(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")

	embedding, err := parseEmbedding(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	_, backend, err := openConfiguredBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()
	if backend.repo == nil {
		return errors.New("nearest requires IDENTITY_SOURCE=postgres")
	}

	matches, err := backend.repo.NearestReferences(ctx, embedding, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(matches)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DISTANCE\tCONFIDENCE\tID\tNAME\tRISK")
	for _, m := range matches {
		fmt.Fprintf(w, "%.4f\t%d%%\t%s\t%s\t%s\n",
			m.Distance, pipeline.ConfidencePercent(facematch.Confidence(m.Distance)), m.IdentityID, m.DisplayName, m.RiskTag)
	}
	return w.Flush()
}
