package commands

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/haivivi/faceid/go/pkg/cli"
	"github.com/haivivi/faceid/go/pkg/gallery"
	"github.com/haivivi/faceid/go/pkg/storage"
)

var flagImportRepair bool

var exportCmd = &cobra.Command{
	Use:   "export <target>",
	Short: "Export the gallery to a file or s3:// target",
	Long: `Export every enrolled identity as a JSON interchange document.

The target is a local file path or an s3:// URI:

  faceid export galleries/backup.json
  faceid export s3://face-backups/prod/gallery.json

S3 credentials come from the standard AWS environment/shared-config
chain; region and endpoint can be set on the context (faceid config
add-context ... --region --endpoint) for S3-compatible stores.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import a gallery document from a file or s3:// source",
	Long: `Import identities from a JSON interchange document.

The document is schema-checked before any record is written. Records are
then written one at a time; the first invalid record aborts the import
and records already written stay written.

With --repair, malformed JSON (trailing commas, comments, single quotes)
is repaired before parsing.

  faceid import galleries/backup.json
  faceid import s3://face-backups/prod/gallery.json --repair`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().BoolVar(&flagImportRepair, "repair", false, "repair malformed JSON before parsing")
}

func runExport(cmd *cobra.Command, args []string) error {
	cliCtx, err := getContextOrDefault()
	if err != nil {
		return err
	}

	ctx := context.Background()
	fs, name, err := openFileStore(ctx, cliCtx, args[0])
	if err != nil {
		return err
	}

	store, closeStore, err := openGallery(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore()

	identities, err := store.Identities(ctx)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}

	w, err := fs.Write(ctx, name)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	if err := gallery.Export(ctx, w, identities); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write target: %w", err)
	}

	cli.PrintSuccess("Exported %d identities to %s", len(identities), args[0])
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cliCtx, err := getContextOrDefault()
	if err != nil {
		return err
	}

	ctx := context.Background()
	fs, name, err := openFileStore(ctx, cliCtx, args[0])
	if err != nil {
		return err
	}

	store, closeStore, err := openGallery(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore()

	r, err := fs.Read(ctx, name)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer r.Close()

	var bar *progressbar.ProgressBar
	n, err := gallery.Import(ctx, r, store, gallery.ImportOptions{
		Repair: flagImportRepair,
		Progress: func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Importing identities"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
				)
			}
			bar.Add(1)
		},
	})
	if bar != nil {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		if n > 0 {
			cli.PrintWarning("%d identities were written before the failure", n)
		}
		return err
	}

	cli.PrintSuccess("Imported %d identities from %s", n, args[0])
	return nil
}

// openFileStore resolves a transfer target into a FileStore and the
// path inside it. s3://bucket/key URIs get an S3 store configured from
// the context's remote settings; anything else is a local path.
func openFileStore(ctx context.Context, cliCtx *cli.Context, target string) (storage.FileStore, string, error) {
	if rest, isS3 := strings.CutPrefix(target, "s3://"); isS3 {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return nil, "", fmt.Errorf("invalid S3 URI %q (want s3://bucket/key)", target)
		}
		client, err := newS3Client(ctx, cliCtx)
		if err != nil {
			return nil, "", err
		}
		prefix := path.Dir(key)
		if prefix == "." {
			prefix = ""
		}
		return storage.NewS3(client, bucket, prefix), path.Base(key), nil
	}

	dir := filepath.Dir(target)
	local, err := storage.NewLocal(dir)
	if err != nil {
		return nil, "", err
	}
	return local, filepath.Base(target), nil
}

// newS3Client builds an S3 client from the default AWS credential chain,
// honoring the context's region and endpoint overrides.
func newS3Client(ctx context.Context, cliCtx *cli.Context) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	var region, endpoint string
	if cliCtx != nil && cliCtx.Remote != nil {
		region = cliCtx.Remote.Region
		endpoint = cliCtx.Remote.Endpoint
	}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// MinIO and friends serve buckets by path, not subdomain.
			o.UsePathStyle = true
		}
	}), nil
}
