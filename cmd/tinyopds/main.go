// Command tinyopds is the TinyOPDS console entry point: it loads
// configuration, builds the in-memory library, and exposes install/
// uninstall/start/stop/scan/encred subcommands.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyopds/tinyopds/internal/config"
	"github.com/tinyopds/tinyopds/internal/converter"
	"github.com/tinyopds/tinyopds/internal/genre"
	"github.com/tinyopds/tinyopds/internal/library"
	"github.com/tinyopds/tinyopds/internal/scanner"
	"github.com/tinyopds/tinyopds/internal/server"
	"github.com/tinyopds/tinyopds/internal/watcher"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "tinyopds",
		Short: "TinyOPDS personal e-book library server",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to tinyopds.yaml (default: search order in internal/config)")

	root.AddCommand(
		newStartCmd(),
		newScanCmd(),
		newEncredCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		newStopCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if path != "" {
		log.Printf("loaded configuration from %q", path)
	} else {
		log.Printf("no configuration file found, using defaults")
	}
	return cfg, nil
}

func buildLibrary(cfg config.Config) (*library.Library, *genre.Taxonomy, error) {
	taxonomy, err := genre.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load genre taxonomy: %w", err)
	}

	lib := library.New(cfg.LibraryPath, cfg.Language)
	if err := lib.Load(); err != nil {
		return nil, nil, fmt.Errorf("load library database: %w", err)
	}
	return lib, taxonomy, nil
}

// runScan walks cfg.LibraryPath, admitting every discovered book into lib.
func runScan(ctx context.Context, cfg config.Config, lib *library.Library, taxonomy *genre.Taxonomy) (added, skipped, invalid int) {
	sc := scanner.New(lib, taxonomy)
	for ev := range sc.ScanDirectory(ctx, cfg.LibraryPath, true) {
		switch ev.Type {
		case scanner.BookFound:
			if lib.Add(*ev.Book) {
				added++
			}
		case scanner.FileSkipped:
			skipped = ev.Count
		case scanner.InvalidBook:
			invalid++
		}
	}
	return added, skipped, invalid
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "scan the library path and rebuild the catalog database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lib, taxonomy, err := buildLibrary(cfg)
			if err != nil {
				return err
			}

			added, skipped, invalid := runScan(cmd.Context(), cfg, lib, taxonomy)
			log.Printf("scan complete: %d added, %d skipped, %d invalid", added, skipped, invalid)

			if err := lib.Save(); err != nil {
				return fmt.Errorf("save library database: %w", err)
			}
			log.Printf("catalog saved to %q", lib.DatabasePath())
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "scan the library and serve it over OPDS/HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context())
		},
	}
}

func runStart(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.UseHTTPAuth {
		log.Printf("WARNING: HTTP authentication is disabled")
	}

	lib, taxonomy, err := buildLibrary(cfg)
	if err != nil {
		return err
	}

	added, skipped, invalid := runScan(ctx, cfg, lib, taxonomy)
	log.Printf("initial scan: %d added, %d skipped, %d invalid", added, skipped, invalid)
	if err := lib.Save(); err != nil {
		log.Printf("warning: could not save library database: %v", err)
	}

	var conv converter.Converter
	if cfg.ConvertorPath != "" {
		conv = converter.New(cfg.ConvertorPath)
	} else {
		log.Printf("no convertor_path configured: FB2-to-EPUB transcoding is disabled")
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if cfg.WatchLibrary {
		w := watcher.New(cfg.LibraryPath, lib, scanner.New(lib, taxonomy))
		events, err := w.Start(watchCtx)
		if err != nil {
			log.Printf("warning: could not start library watcher: %v", err)
		} else {
			go func() {
				for ev := range events {
					switch ev.Type {
					case watcher.BookAdded:
						log.Printf("watcher: added %q", ev.Book.FileName)
					case watcher.BookDeleted:
						log.Printf("watcher: removed %q", ev.Path)
					}
				}
			}()
			log.Printf("library watcher enabled on %q", cfg.LibraryPath)
		}
	}

	srv := server.New(lib, taxonomy, conv, cfg)
	addr := fmt.Sprintf("%s:%d", cfg.InterfaceIP, cfg.ServerPort)
	httpServer := &http.Server{Addr: addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("TinyOPDS listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-sigCh:
		log.Printf("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if lib.IsChanged() {
		if err := lib.Save(); err != nil {
			log.Printf("warning: could not save library database on exit: %v", err)
		}
	}
	return nil
}

func newEncredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encred <user:pass> [user:pass ...]",
		Short: "encrypt one or more user:pass credential pairs for tinyopds.yaml",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain := strings.Join(args, ";")
			encrypted, err := config.EncryptCredentials(plain)
			if err != nil {
				return fmt.Errorf("encrypt credentials: %w", err)
			}
			fmt.Println(encrypted)
			return nil
		},
	}
}

// newInstallCmd, newUninstallCmd, and newStopCmd cover the service-manager
// side of the CLI surface. Registering tinyopds with a platform service
// manager (Windows service control manager, systemd, launchd) is an
// out-of-scope external collaborator; these subcommands exist for surface
// completeness and point the operator at "start" directly.
func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "install tinyopds as a platform service (not implemented)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "service installation is not provided by this build; run \"tinyopds start\" directly or wire it into your own service manager")
			return nil
		},
	}
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "remove a previously installed platform service (not implemented)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "service removal is not provided by this build")
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "stop a running platform service instance (not implemented)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "no service manager integration in this build; send SIGTERM/SIGINT to the running \"tinyopds start\" process instead")
			return nil
		},
	}
}
