package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/faceid/go/pkg/cli"
	"github.com/haivivi/faceid/go/pkg/gallery"
	"github.com/haivivi/faceid/go/pkg/jsontime"
)

var (
	flagAuditEps    float64
	flagAuditMinPts int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Scan the gallery for duplicate enrollments",
	Long: `Cluster identity reference vectors to find people enrolled more than
once. Identities whose vectors sit within --eps Euclidean distance of
each other are grouped into clusters; a cluster with two or more members
very likely means one person behind several IDs.

  faceid audit
  faceid audit --eps 0.35 -o report.yaml`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().Float64Var(&flagAuditEps, "eps", 0.4, "neighborhood radius (Euclidean distance)")
	auditCmd.Flags().IntVar(&flagAuditMinPts, "min-pts", 2, "minimum cluster size")
}

// auditDocument is the rendered report: the clustering result plus scan
// metadata, so a saved report is self-describing.
type auditDocument struct {
	GeneratedAt jsontime.Unix `json:"generatedAt"`
	Scanned     int           `json:"scanned"`
	*gallery.AuditReport
}

func runAudit(cmd *cobra.Command, args []string) error {
	cliCtx, err := getContextOrDefault()
	if err != nil {
		return err
	}

	store, closeStore, err := openGallery(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	identities, err := store.Identities(ctx)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}
	if len(identities) == 0 {
		cli.PrintInfo("No identities enrolled. Nothing to audit.")
		return nil
	}

	names := make(map[string]string, len(identities))
	for _, ident := range identities {
		names[ident.ID] = ident.Name
	}

	report := gallery.Audit(identities, flagAuditEps, flagAuditMinPts)
	doc := &auditDocument{
		GeneratedAt: jsontime.NowEpoch(),
		Scanned:     len(identities),
		AuditReport: report,
	}

	if err := outputResult(doc, getOutputFile(), isJSONOutput()); err != nil {
		return err
	}

	if len(report.Clusters) == 0 {
		cli.PrintSuccess("Audited %d identities; no duplicates found", len(identities))
		return nil
	}
	for i, cluster := range report.Clusters {
		cli.PrintWarning("cluster %d: %s", i+1, joinIdentityRefs(cluster, names))
	}
	cli.PrintWarning("%d suspect cluster(s); the members of each are likely the same person", len(report.Clusters))
	return nil
}

// joinIdentityRefs renders "name (id), name (id)" for a cluster.
func joinIdentityRefs(ids []string, names map[string]string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if name := names[id]; name != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, id))
			continue
		}
		parts = append(parts, id)
	}
	return strings.Join(parts, ", ")
}
