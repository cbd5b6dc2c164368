package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/haivivi/faceid/go/pkg/cli"
	"github.com/haivivi/faceid/go/pkg/faceid"
	"github.com/haivivi/faceid/go/pkg/vecstore"
)

var flagIndexOut string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build and inspect the ANN index snapshot",
	Long: `Manage the HNSW index snapshot used for approximate matching over
large galleries. "index build" rebuilds the snapshot from the gallery;
"index info" prints the graph parameters and layer occupancy of an
existing snapshot.`,
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the index snapshot from the gallery",
	Long: `Index every identity's reference vector into an HNSW graph and write
the snapshot out. The target is a local path or an s3:// URI; the snapshot
can be inspected with "index info".

  faceid index build
  faceid index build --out /tmp/faces.hnsw
  faceid index build --out s3://face-backups/prod/index.hnsw`,
	Args: cobra.NoArgs,
	RunE: runIndexBuild,
}

var indexInfoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Show parameters and layer stats of an index snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndexInfo,
}

func init() {
	indexBuildCmd.Flags().StringVar(&flagIndexOut, "out", "", "snapshot target, path or s3:// URI (default ~/.faceid/faceid/data/index.hnsw)")
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexInfoCmd)
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	cliCtx, err := getContextOrDefault()
	if err != nil {
		return err
	}

	out := flagIndexOut
	if out == "" {
		out, err = defaultIndexPath()
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	store, closeStore, err := openGallery(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore()

	identities, err := store.Identities(ctx)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}

	var ids []string
	var vectors [][]float32
	skipped := 0
	for _, ident := range identities {
		v := ident.MeanEmbedding
		if v == nil {
			v = faceid.MeanEmbedding(ident.Embeddings)
		}
		if len(v) == 0 {
			skipped++
			continue
		}
		ids = append(ids, ident.ID)
		vectors = append(vectors, v)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no identities with usable vectors; enroll someone first")
	}
	if skipped > 0 {
		cli.PrintWarning("skipped %d identities without reference vectors", skipped)
	}

	h := vecstore.NewHNSW(vecstore.HNSWConfig{
		Dim:    len(vectors[0]),
		Metric: vecstore.MetricL2,
	})
	if err := h.BatchInsert(ids, vectors); err != nil {
		return fmt.Errorf("index vectors: %w", err)
	}

	fs, name, err := openFileStore(ctx, cliCtx, out)
	if err != nil {
		return err
	}
	w, err := fs.Write(ctx, name)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	cw := &countingWriter{w: w}
	if err := h.Save(cw); err != nil {
		w.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	cli.PrintSuccess("Indexed %d identities to %s (%s)", len(ids), out, cli.FormatBytes(cw.n))
	return nil
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	cliCtx, err := getContextOrDefault()
	if err != nil {
		return err
	}

	file := ""
	if len(args) > 0 {
		file = args[0]
	}
	if file == "" {
		file, err = defaultIndexPath()
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	fs, name, err := openFileStore(ctx, cliCtx, file)
	if err != nil {
		return err
	}
	r, err := fs.Read(ctx, name)
	if err != nil {
		return err
	}
	defer r.Close()

	h, err := vecstore.LoadHNSW(r)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	return outputResult(h.Stats(), getOutputFile(), isJSONOutput())
}

func defaultIndexPath() (string, error) {
	paths, err := cli.NewPaths(appName)
	if err != nil {
		return "", err
	}
	if err := paths.EnsureDataDir(); err != nil {
		return "", err
	}
	return paths.IndexFile(), nil
}

// countingWriter tracks bytes written; object store targets cannot be
// stat'ed after the upload.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
