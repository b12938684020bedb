package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/quickbar/pkg/bridge"
	"github.com/entrhq/quickbar/pkg/browser"
	appconfig "github.com/entrhq/quickbar/pkg/config"
	"github.com/entrhq/quickbar/pkg/controller"
	"github.com/entrhq/quickbar/pkg/logging"
	"github.com/entrhq/quickbar/pkg/planner"
	"github.com/entrhq/quickbar/pkg/store"
	"github.com/entrhq/quickbar/pkg/surface"
	"github.com/entrhq/quickbar/pkg/tabstate"
	"github.com/entrhq/quickbar/pkg/types"
)

const (
	defaultAddr     = "127.0.0.1:7777"
	shutdownTimeout = 10 * time.Second
)

var log *logging.Logger

func init() {
	var err error
	log, err = logging.NewLogger("main")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		log.Warnf("Failed to initialize main logger, using stderr fallback: %v", err)
	}
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Launch the browser and serve the control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, v.GetString("addr"), v.GetString("open"))
		},
	}

	flags := cmd.Flags()
	flags.String("addr", defaultAddr, "control surface listen address")
	flags.String("open", "", "URL to open in a first tab")
	flags.String("planner-url", "", "planner service base URL")
	flags.String("planner-timeout", "", "planner request timeout, e.g. 30s")
	flags.String("search-ui-url", "", "search UI base URL used by search_default")
	flags.Bool("headless", true, "run the browser without a window")
	flags.Int("browser-timeout", 0, "browser operation timeout in milliseconds")
	flags.String("storage-driver", "", "tab state store: sqlite or memory")
	flags.String("db", "", "SQLite database path")
	return cmd
}

// openStore opens the tab-state store named by the storage section.
func openStore(section *appconfig.StorageSection) (store.Store, error) {
	if section.GetDriver() == appconfig.StorageDriverMemory {
		log.Infof("Using in-memory tab state store")
		return store.NewMemoryStore(), nil
	}

	path, err := section.ResolvePath()
	if err != nil {
		return nil, err
	}
	log.Infof("Using SQLite tab state store at %s", path)
	return store.NewSQLiteStore(path)
}

func browserOptions(section *appconfig.BrowserSection) browser.Options {
	headless, width, height, timeout := section.Options()
	return browser.Options{
		Headless: headless,
		Viewport: browser.Viewport{Width: width, Height: height},
		Timeout:  float64(timeout),
	}
}

// serve wires the engine together and runs it until ctx is cancelled.
func serve(ctx context.Context, addr, openURL string) error {
	plannerCfg := appconfig.GetPlanner()
	searchCfg := appconfig.GetSearch()
	safetyCfg := appconfig.GetSafety()

	kv, err := openStore(appconfig.GetStorage())
	if err != nil {
		return fmt.Errorf("failed to open tab state store: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Warnf("Failed to close tab state store: %v", err)
		}
	}()

	states := tabstate.NewManager(kv)
	recovered, err := states.RecoverOrphans(ctx)
	if err != nil {
		log.Warnf("Failed to recover interrupted runs: %v", err)
	} else if len(recovered) > 0 {
		log.Infof("Recovered %d interrupted runs", len(recovered))
	}

	router := bridge.NewRouter()
	defer router.Close()

	browserMgr := browser.NewManager(router, browserOptions(appconfig.GetBrowser()))
	if err := browserMgr.Initialize(); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := browserMgr.Shutdown(); err != nil {
			log.Warnf("Failed to shut down browser: %v", err)
		}
	}()

	client := planner.NewClient(plannerCfg.GetBaseURL(),
		planner.WithTimeout(plannerCfg.GetRequestTimeout()),
		planner.WithToolFilter(safetyCfg.IsToolAllowed),
	)

	var hub *surface.Hub
	ctrl := controller.New(states, browserMgr, router, client,
		controller.WithSearchUIURL(searchCfg.UIURL),
		controller.WithNavigationGuard(safetyCfg.IsBlockedNavigation),
		controller.WithEngineLookup(searchCfg.Engine),
		controller.WithEventEmitter(func(ev *types.Event) { hub.Broadcast(ev) }),
	)

	surf := surface.New(states, ctrl, surface.WithEngineCatalog(searchCfg))
	hub = surface.NewHub(surf.Dispatch)
	unsubscribe := states.Subscribe(hub.Broadcast)
	defer unsubscribe()

	router.OnNotify(func(tabID int, n bridge.Notification) {
		if n.Type != bridge.NotifyEscapeStop {
			return
		}
		if err := ctrl.EscapeStop(context.Background(), tabID); err != nil {
			log.Warnf("Escape-stop on tab %d: %v", tabID, err)
		}
	})
	browserMgr.OnTabClosed(func(tabID int) {
		if err := ctrl.TabClosed(context.Background(), tabID); err != nil {
			log.Warnf("Cleaning up closed tab %d: %v", tabID, err)
		}
	})

	if openURL != "" {
		tabID, err := browserMgr.OpenTab(ctx, openURL)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", openURL, err)
		}
		log.Infof("Opened tab %d at %s", tabID, openURL)
	}

	server := surface.NewServer(surf, hub, surface.WithRunReport(browserMgr, ctrl))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infof("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := ctrl.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("controller: %w", err))
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("control surface: %w", err))
		}
		return errors.Join(errs...)
	})

	fmt.Fprintf(os.Stderr, "quickbar %s serving on %s (session %s)\n", version, addr, logging.GetSessionID())
	return g.Wait()
}
