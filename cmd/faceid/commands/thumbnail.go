package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/faceid/go/pkg/cli"
	"github.com/haivivi/faceid/go/pkg/faceid"
	"github.com/haivivi/faceid/go/pkg/thumbnail"
)

var (
	flagThumbOut     string
	flagThumbBox     string
	flagThumbSize    int
	flagThumbQuality int
)

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail <image>",
	Short: "Cut a face preview out of a frame",
	Long: `Crop a face region out of a frame image (JPEG or PNG) and save it
as a small JPEG preview, the same transform enrollment applies to
captured frames.

The box is the detector's face rectangle in pixels. It is expanded by
the margin and clamped to the frame before cropping; without --box the
whole frame is shrunk instead.

Examples:
  # Preview the crop enrollment would store for this detection
  faceid thumbnail frame.jpg --box 120,80,260,300 --out face.jpg

  # Whole frame at a larger edge
  faceid thumbnail frame.jpg --size 320 --out preview.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runThumbnail,
}

func init() {
	thumbnailCmd.Flags().StringVar(&flagThumbOut, "out", "", "output JPEG path")
	thumbnailCmd.Flags().StringVar(&flagThumbBox, "box", "", "face box as x,y,width,height in pixels")
	thumbnailCmd.Flags().IntVar(&flagThumbSize, "size", 0, "longest output edge in pixels (default 160)")
	thumbnailCmd.Flags().IntVar(&flagThumbQuality, "quality", 0, "JPEG quality (default 85)")
}

func runThumbnail(cmd *cobra.Command, args []string) error {
	if flagThumbOut == "" {
		return fmt.Errorf("output path required. Use --out")
	}

	frame, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	var box faceid.Rect
	if flagThumbBox != "" {
		box, err = parseBox(flagThumbBox)
		if err != nil {
			return err
		}
	}

	maker := thumbnail.NewMaker(thumbnail.Config{
		Size:    flagThumbSize,
		Quality: flagThumbQuality,
	})
	thumb, err := maker.Thumbnail(frame, box)
	if err != nil {
		return err
	}

	if err := cli.OutputBytes(thumb, flagThumbOut); err != nil {
		return err
	}
	cli.PrintSuccess("Wrote %s (%s)", flagThumbOut, cli.FormatBytesInt(len(thumb)))
	return nil
}

// parseBox reads a detector rectangle from its x,y,width,height flag form.
func parseBox(s string) (faceid.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return faceid.Rect{}, fmt.Errorf("box %q: want x,y,width,height", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return faceid.Rect{}, fmt.Errorf("box %q: %w", s, err)
		}
		vals[i] = v
	}
	return faceid.Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}
