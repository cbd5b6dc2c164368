package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/faceid/go/pkg/cli"
)

const defaultListen = ":8089"

var (
	flagServeListen string
	flagServeTUI    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket capture gateway",
	Long: `Serve the enrollment and matching protocol over websocket.

Capture clients connect (any path, e.g. ws://host:8089/ws), stream face
detections, and receive state, capture, and match events back. One
enrollment runs at a time; match queries are answered for every
connection from the in-memory gallery index, which reloads after each
completed enrollment.

  faceid serve
  faceid serve --listen :9000 --tui`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeListen, "listen", "", "listen address (default "+defaultListen+")")
	serveCmd.Flags().BoolVar(&flagServeTUI, "tui", false, "show the live dashboard")
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx, err := getContextOrDefault()
	if err != nil {
		return err
	}

	listen := flagServeListen
	if listen == "" && cliCtx != nil && cliCtx.Listen != "" {
		listen = cliCtx.Listen
	}
	if listen == "" {
		listen = defaultListen
	}

	store, closeStore, err := openGallery(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore()

	gw := newGateway(store, cliCtx.MatchConfig().WithDefaults())
	n, err := gw.reloadMatcher(context.Background())
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}
	slog.Info("gateway: gallery loaded", "identities", n)

	mux := http.NewServeMux()
	mux.HandleFunc("/", gw.handleWS)
	mux.HandleFunc("/ws", gw.handleWS)

	g, ctx := errgroup.WithContext(context.Background())
	srv := &http.Server{
		Addr:        listen,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// stopCh fans the first exit trigger (signal, TUI quit, server
	// failure) out to every goroutine below.
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }

	g.Go(func() error {
		err := srv.ListenAndServe()
		stop()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			slog.Info("gateway: shutting down")
		case <-stopCh:
		case <-ctx.Done():
		}
		stop()
		gw.closeConns()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if flagServeTUI {
		// Route logs into the dashboard instead of stderr.
		logWriter := cli.NewLogWriter(200)
		level := slog.LevelInfo
		if isVerbose() {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
			Level: level,
		})))

		p := tea.NewProgram(NewTUIModel(gw, logWriter, listen), tea.WithAltScreen())
		g.Go(func() error {
			_, err := p.Run()
			stop()
			return err
		})
		g.Go(func() error {
			select {
			case <-stopCh:
			case <-ctx.Done():
			}
			p.Quit()
			return nil
		})
	} else {
		fmt.Printf("Gateway listening on %s\n", listen)
		fmt.Println("Press Ctrl+C to exit")
	}

	return g.Wait()
}
