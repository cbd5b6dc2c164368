package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/haivivi/faceid/go/pkg/cli"
	"github.com/haivivi/faceid/go/pkg/faceid"
	"github.com/haivivi/faceid/go/pkg/thumbnail"
)

var (
	flagEnrollID       string
	flagEnrollName     string
	flagEnrollScript   string
	flagEnrollInterval time.Duration
)

// captureScript is the YAML/JSON replay document fed to enroll.
type captureScript struct {
	Detections []scriptDetection `yaml:"detections" json:"detections"`
}

// scriptDetection is one detector frame in a capture script. Frame names
// an image file on disk (JPEG or PNG) used only for thumbnails. WaitMS
// pauses before the frame is fed, on top of the replay's own pacing.
type scriptDetection struct {
	Score      float64     `yaml:"score" json:"score"`
	Box        faceid.Rect `yaml:"box" json:"box"`
	Descriptor []float32   `yaml:"descriptor" json:"descriptor"`
	Frame      string      `yaml:"frame,omitempty" json:"frame,omitempty"`
	WaitMS     int         `yaml:"wait_ms,omitempty" json:"waitMs,omitempty"`
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll an identity from a capture script",
	Long: `Enroll an identity by replaying a capture script through a real
enrollment session against the configured gallery store.

A script is a YAML or JSON document listing detector frames:

  detections:
    - score: 0.93
      descriptor: [0.12, -0.04, ...]
      box: {x: 120, y: 80, width: 96, height: 96}
      frame: frames/cap1.jpg    # optional, for thumbnails
    - score: 0.91
      descriptor: [0.11, -0.02, ...]

Every frame runs through the full admission pipeline (rate, quality,
novelty, consistency) and the per-frame decision is printed. The replay
waits out the capture interval after each accepted frame so that
admission depends on frame quality, not replay speed; use --interval to
shorten the wait.

Examples:
  # Enroll with a generated ID
  faceid enroll --name "Alice" --script captures.yaml

  # Re-enroll an existing identity, fast replay
  faceid enroll --id u-42 --name "Alice" --script captures.yaml --interval 10ms

  # Script from stdin
  cat captures.yaml | faceid enroll --name "Alice" --script -`,
	RunE: runEnroll,
}

func init() {
	enrollCmd.Flags().StringVar(&flagEnrollID, "id", "", "identity ID (default: generated UUID)")
	enrollCmd.Flags().StringVar(&flagEnrollName, "name", "", "display name (required)")
	enrollCmd.Flags().StringVar(&flagEnrollScript, "script", "", "capture script file, or - for stdin")
	enrollCmd.Flags().DurationVar(&flagEnrollInterval, "interval", 0, "override the capture interval for the replay")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	if flagEnrollName == "" {
		return fmt.Errorf("--name is required")
	}

	id := flagEnrollID
	if id == "" {
		id = uuid.NewString()
	}

	scriptPath := flagEnrollScript
	if scriptPath == "" {
		scriptPath = getInputFile()
	}
	if scriptPath == "" {
		return fmt.Errorf("capture script required. Use --script or -f")
	}

	var script captureScript
	if err := cli.LoadRequest(scriptPath, &script); err != nil {
		return fmt.Errorf("load capture script: %w", err)
	}
	if len(script.Detections) == 0 {
		return fmt.Errorf("capture script has no detections")
	}

	cliCtx, err := getContextOrDefault()
	if err != nil {
		return err
	}

	cfg := cliCtx.MatchConfig()
	if flagEnrollInterval > 0 {
		cfg.CaptureInterval = flagEnrollInterval
	}
	cfg = cfg.WithDefaults()

	store, closeStore, err := openGallery(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	sess, err := faceid.NewSession(ctx, cfg,
		faceid.WithStore(store),
		faceid.WithThumbnailer(thumbnail.NewMaker(thumbnail.Config{})),
	)
	if err != nil {
		return err
	}
	if sess.State() == faceid.StateCollecting {
		// A checkpoint from an interrupted run was restored; the script
		// continues that enrollment, whoever it was for.
		cli.PrintWarning("Resuming in-flight enrollment for %q (%d captures); --id/--name ignored",
			sess.UserID(), sess.Count())
	} else {
		if err := sess.Start(id, flagEnrollName); err != nil {
			return err
		}
	}

	bar := progressbar.NewOptions(len(script.Detections),
		progressbar.OptionSetDescription("Replaying captures"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	for i, sd := range script.Detections {
		if sd.WaitMS > 0 {
			time.Sleep(time.Duration(sd.WaitMS) * time.Millisecond)
		}

		det := &faceid.Detection{
			Score:     sd.Score,
			Box:       sd.Box,
			Embedding: faceid.Embedding(sd.Descriptor),
		}
		if sd.Frame != "" {
			frame, err := os.ReadFile(sd.Frame)
			if err != nil {
				return fmt.Errorf("frame %d: read image %s: %w", i, sd.Frame, err)
			}
			printVerbose("frame %d: loaded %s (%s)", i, sd.Frame, cli.FormatBytesInt(len(frame)))
			det.Frame = frame
		}

		res, err := sess.ProcessDetection(ctx, det)
		if err != nil {
			if errors.Is(err, faceid.ErrInvalidState) {
				// Enrollment finalized mid-script; remaining frames are moot.
				break
			}
			return err
		}
		bar.Add(1)

		if res.Accepted {
			fmt.Printf("frame %d: accepted (%d/%d)\n", i, res.Count, cfg.MaxCaptures)
			if sess.State() == faceid.StateCollecting {
				// Sleep out the rate gate so the next frame is judged on
				// quality, not replay speed.
				time.Sleep(cfg.CaptureInterval)
			}
		} else {
			fmt.Printf("frame %d: rejected (%s)\n", i, res.Reason)
		}

		if sess.State() != faceid.StateCollecting {
			break
		}
	}
	fmt.Fprintln(os.Stderr)

	// Script exhausted before the capture set filled: finalize with what
	// we have, if it clears the sample floor.
	if sess.State() == faceid.StateCollecting {
		if err := sess.FinishEarly(ctx); err != nil {
			if errors.Is(err, faceid.ErrInsufficientSamples) {
				cli.PrintError("Only %d captures accepted; need at least %d. Checkpoint kept for resume.",
					sess.Count(), faceid.MinSamples)
			}
			return err
		}
	}

	if sess.State() != faceid.StateSaved {
		return fmt.Errorf("enrollment did not complete: state %s", sess.State())
	}

	cli.PrintSuccess("Enrolled %q as %s with %d captures", flagEnrollName, sess.UserID(), sess.Count())
	return nil
}
