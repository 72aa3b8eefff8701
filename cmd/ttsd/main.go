package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ttsd/internal/admission"
	"ttsd/internal/catalog"
	"ttsd/internal/common/fsutil"
	"ttsd/internal/config"
	"ttsd/internal/engine"
	"ttsd/internal/events"
	"ttsd/internal/flight"
	"ttsd/internal/httpapi"
	"ttsd/internal/orchestrator"
	"ttsd/internal/registry"
	"ttsd/internal/store"
	"ttsd/pkg/types"
)

func main() {
	var (
		cfgPath   string
		addr      string
		dataDir   string
		engineURL string
		logLevel  string
	)

	root := &cobra.Command{
		Use:   "ttsd",
		Short: "Speech synthesis orchestration daemon",
		Long: "ttsd fronts a neural speech-synthesis engine with model lifecycle\n" +
			"management, per-device admission control and a content-addressed\n" +
			"audio artifact cache.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{}
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			// Flags override file values.
			if addr != "" {
				cfg.Addr = addr
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if engineURL != "" {
				cfg.EngineURL = engineURL
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return run(cfg.WithDefaults())
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file (yaml, json or toml)")
	root.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080")
	root.Flags().StringVar(&dataDir, "data-dir", "", "directory for the artifact store")
	root.Flags().StringVar(&engineURL, "engine-url", "", "base URL of the synthesis engine")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	dataDir, err := fsutil.ExpandHome(cfg.DataDir)
	if err != nil {
		return err
	}

	pub := events.Noop()
	cat := catalog.FromEntries(cfg.Models)
	eng := engine.NewHTTPEngine(cfg.EngineURL, cfg.EngineTimeout())

	st, err := store.Open(store.Config{
		Dir:             dataDir,
		TTL:             cfg.ArtifactTTL(),
		QuotaBytes:      cfg.StorageQuotaBytes,
		ReclaimInterval: cfg.ReclaimInterval(),
		Publisher:       pub,
		Logger:          log.With().Str("component", "store").Logger(),
	})
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer st.Close()

	reg := registry.New(registry.Config{
		Engine:      eng,
		LoadTimeout: cfg.LoadTimeout(),
		Cooldown:    cfg.LoadCooldown(),
		IdleTimeout: cfg.IdleTimeout(),
		MaxLoaded:   cfg.MaxLoadedModels,
		Publisher:   pub,
		Logger:      log.With().Str("component", "registry").Logger(),
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := reg.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("registry close")
		}
	}()

	budgets := make(map[types.Device]int, len(cfg.Devices))
	for dev, slots := range cfg.Devices {
		budgets[types.Device(dev)] = slots
	}
	adm := admission.New(budgets, cfg.QueueDepth, cfg.QueueWait())

	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		if models := cat.List(); len(models) > 0 {
			defaultModel = models[0].ID
		}
	}
	orch := orchestrator.New(orchestrator.Config{
		Catalog:          cat,
		Registry:         reg,
		Admission:        adm,
		Cache:            flight.NewCache(),
		Store:            st,
		DefaultModel:     defaultModel,
		DefaultFormat:    cfg.DefaultFormat,
		DefaultDevice:    types.Device(cfg.DefaultDevice),
		MaxTextLen:       cfg.MaxTextLen,
		WaitTimeout:      cfg.WaitTimeout(),
		InferenceTimeout: cfg.InferenceTimeout(),
		Publisher:        pub,
		Logger:           log.With().Str("component", "orchestrator").Logger(),
	})

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, cfg.CORSMethods, cfg.CORSHeaders)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(orch),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("data_dir", dataDir).
			Str("engine", cfg.EngineURL).Int("models", len(cat.List())).
			Msg("ttsd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	return nil
}
