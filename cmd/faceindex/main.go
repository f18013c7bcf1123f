package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"faceindex/internal/api"
	"faceindex/internal/config"
	"faceindex/internal/extractor"
	"faceindex/internal/identity"
	"faceindex/internal/imagestore"
	"faceindex/internal/index"
	"faceindex/internal/ledger"
	"faceindex/internal/sweeper"
	"faceindex/internal/version"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	port    int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "faceindex",
	Short: "Tenant-partitioned face embedding index",
	Long: `faceindex indexes face embedding vectors partitioned by tenant and
answers nearest-neighbor similarity queries scoped to a single tenant.
Each indexed vector is paired with a metadata record in a relational
ledger; a background sweeper keeps the two stores consistent.`,
	Version: version.Full(),
}

// serverCmd starts the HTTP server with the scheduled sweeper.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the face index server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// sweepCmd runs a single reconciliation sweep and prints the report.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("faceindex %s\n", version.Full())
		fmt.Printf("  commit:  %s\n", version.GitCommit)
		fmt.Printf("  built:   %s\n", version.BuildDate)
		fmt.Printf("  go:      %s\n", version.GoVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file path")
	serverCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (overrides config)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildStores opens the ledger and the persistent index, restoring the
// collection registry from disk.
func buildStores(cfg *config.Config) (*index.Registry, *index.SQLiteStore, *ledger.SQLite, error) {
	led, err := ledger.NewSQLite(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, err
	}

	registry := index.NewRegistry()

	var store *index.SQLiteStore
	if path := cfg.IndexDBPath(); path != "memory" {
		store, err = index.NewSQLiteStore(path)
		if err != nil {
			led.Close()
			return nil, nil, nil, err
		}
		if err := store.LoadInto(context.Background(), registry); err != nil {
			store.Close()
			led.Close()
			return nil, nil, nil, err
		}
	}
	return registry, store, led, nil
}

func buildImageStore(cfg *config.Config) (imagestore.Store, error) {
	if cfg.Images.Backend != "minio" {
		return imagestore.NewLocal(cfg.Images.Dir), nil
	}

	mc := cfg.Images.Minio
	client, err := minio.New(mc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
		Secure: mc.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return imagestore.NewMinio(client, mc.Bucket, mc.Prefix), nil
}

func runServer() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Port = port
	}

	registry, store, led, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer led.Close()
	if store != nil {
		defer store.Close()
	}

	images, err := buildImageStore(cfg)
	if err != nil {
		return err
	}

	metric, err := index.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return err
	}

	var persist identity.PointStore
	var deleter sweeper.PointDeleter
	if store != nil {
		persist = store
		deleter = store
	}
	service := identity.NewService(registry, led, persist).WithMetric(metric)

	sw := sweeper.New(registry, led, deleter, sweeper.Config{
		Grace:    cfg.Sweeper.Grace(),
		Schedule: cfg.Sweeper.Schedule,
	}, nil)
	if cfg.Sweeper.IsEnabled() {
		if err := sw.Start(); err != nil {
			return err
		}
		defer sw.Stop()
	}

	ext := extractor.NewHTTPExtractor(cfg.Extractor.URL, cfg.Extractor.Timeout())
	handler := api.NewHandler(service, ext, images)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("faceindex %s listening on :%d", version.Full(), cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runSweep() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	registry, store, led, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer led.Close()
	if store != nil {
		defer store.Close()
	}

	var deleter sweeper.PointDeleter
	if store != nil {
		deleter = store
	}
	sw := sweeper.New(registry, led, deleter, sweeper.Config{Grace: cfg.Sweeper.Grace()}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := sw.SweepAll(ctx)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	return nil
}
