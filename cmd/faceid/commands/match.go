package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/faceid/go/pkg/cli"
	"github.com/haivivi/faceid/go/pkg/faceid"
	"github.com/haivivi/faceid/go/pkg/vecstore"
)

var (
	flagMatchQuery string
	flagMatchTop   int
	flagMatchANN   bool
)

// queryRequest is the probe document: a single descriptor to look up.
type queryRequest struct {
	Descriptor []float32 `yaml:"descriptor" json:"descriptor"`
}

// rankedList renders FindTopMatches results as a table.
type rankedList []faceid.RankedMatch

func (rankedList) TableHeader() []string {
	return []string{"RANK", "ID", "NAME", "DISTANCE", "CONFIDENCE", "MATCH"}
}

func (l rankedList) TableRows() [][]string {
	rows := make([][]string, len(l))
	for i, m := range l {
		match := ""
		if m.IsMatch {
			match = "✓"
		}
		rows[i] = []string{
			strconv.Itoa(i + 1),
			m.IdentityID,
			m.Name,
			fmt.Sprintf("%.4f", m.Distance),
			fmt.Sprintf("%.1f", m.Confidence),
			match,
		}
	}
	return rows
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match a query descriptor against the gallery",
	Long: `Match a probe descriptor against every enrolled identity.

The query document carries one descriptor:

  {"descriptor": [0.12, -0.04, ...]}

By default the single best match is reported with its distance,
calibrated confidence, and matched / no_match / unknown status. With
--top the k closest identities are ranked instead, at most one entry
per identity.

Examples:
  # Best match as YAML
  faceid match --query probe.json

  # Top 5 as a table
  faceid match --query probe.json --top 5

  # Route the search through the HNSW backend
  faceid match --query probe.json --ann

  # Probe from stdin, JSON out
  cat probe.json | faceid match --query - --json`,
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().StringVar(&flagMatchQuery, "query", "", "query document file, or - for stdin")
	matchCmd.Flags().IntVar(&flagMatchTop, "top", 0, "rank the k closest identities instead of the best")
	matchCmd.Flags().BoolVar(&flagMatchANN, "ann", false, "search through the HNSW index backend")
}

func runMatch(cmd *cobra.Command, args []string) error {
	queryPath := flagMatchQuery
	if queryPath == "" {
		queryPath = getInputFile()
	}
	if queryPath == "" {
		return fmt.Errorf("query document required. Use --query or -f")
	}

	var query queryRequest
	if err := cli.LoadRequest(queryPath, &query); err != nil {
		return fmt.Errorf("load query: %w", err)
	}
	if len(query.Descriptor) == 0 {
		return fmt.Errorf("query document has no descriptor")
	}

	cliCtx, err := getContextOrDefault()
	if err != nil {
		return err
	}

	store, closeStore, err := openGallery(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore()

	identities, err := store.Identities(context.Background())
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}

	matcher := newMatcher(cliCtx.MatchConfig(), len(query.Descriptor), flagMatchANN)
	loaded := matcher.Load(identities)
	printVerbose("Gallery: %d identities, %d vectors", loaded, matcher.Len())

	if flagMatchTop > 0 {
		ranked := matcher.FindTopMatches(faceid.Embedding(query.Descriptor), flagMatchTop)
		printVerbose("Query answered in %s", cli.FormatDuration(time.Duration(matcher.Stats().LastQueryLatency)))
		return outputListResult(rankedList(ranked), getOutputFile(), isJSONOutput())
	}

	result := matcher.FindBestMatch(faceid.Embedding(query.Descriptor))
	printVerbose("Query answered in %s", cli.FormatDuration(time.Duration(matcher.Stats().LastQueryLatency)))
	return outputResult(result, getOutputFile(), isJSONOutput())
}

// newMatcher builds a matcher, optionally backed by an HNSW index sized
// to the probe's dimension.
func newMatcher(cfg faceid.Config, dim int, ann bool) *faceid.Matcher {
	if !ann {
		return faceid.NewMatcher(cfg)
	}
	return faceid.NewMatcher(cfg, faceid.WithIndexFactory(func() (vecstore.Index, error) {
		return vecstore.NewHNSW(vecstore.HNSWConfig{
			Dim:    dim,
			Metric: vecstore.MetricL2,
		}), nil
	}))
}
