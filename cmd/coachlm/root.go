package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"coachlm/internal/config"
	"coachlm/internal/engine"
	"coachlm/internal/httpapi"
	"coachlm/internal/resolver"
)

// cliFlags collects persistent flag values before config resolution.
type cliFlags struct {
	configPath    string
	modelsDir     string
	modelName     string
	contextWindow int
	libPath       string
	logLevel      string
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}
	root := &cobra.Command{
		Use:           "coachlm",
		Short:         "Local LLM inference engine for the coaching app",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to a yaml/json/toml config file")
	pf.StringVar(&flags.modelsDir, "models-dir", "", "Directory holding downloaded *.gguf files")
	pf.StringVar(&flags.modelName, "model", "", "Model name (filename stem under the models dir)")
	pf.IntVar(&flags.contextWindow, "context-window", 0, "Context window in tokens")
	pf.StringVar(&flags.libPath, "lib-path", "", "Directory holding the llama.cpp shared libraries")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug|info|warn|error")

	root.AddCommand(
		newServeCmd(flags),
		newGenerateCmd(flags),
		newStreamCmd(flags),
		newHealthCmd(flags),
		newModelsCmd(flags),
	)
	return root
}

// resolveConfig loads the optional config file and applies flag overrides.
func resolveConfig(flags *cliFlags) (config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if flags.modelsDir != "" {
		cfg.ModelsDir = flags.modelsDir
	}
	if flags.modelName != "" {
		cfg.Model.Name = flags.modelName
	}
	if flags.contextWindow > 0 {
		cfg.Model.ContextWindow = flags.contextWindow
	}
	if flags.libPath != "" {
		cfg.LibPath = flags.libPath
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).With().Timestamp().Logger()
}

func buildEngine(cfg config.Config, log zerolog.Logger, reg prometheus.Registerer) (*engine.Engine, error) {
	return engine.New(cfg.ModelsDir, cfg.Model, engine.Options{
		LibPath:      cfg.LibPath,
		GPULayers:    -1,
		StreamBuffer: cfg.StreamBuffer,
		Guards: engine.GuardConfig{
			StopCheckEvery:   cfg.Guards.StopCheckEvery,
			LoopCheckEvery:   cfg.Guards.LoopCheckEvery,
			LoopMinTokens:    cfg.Guards.LoopMinTokens,
			PatternMinTokens: cfg.Guards.PatternMinTokens,
			LoopWindowWords:  cfg.Guards.LoopWindowWords,
		},
		Logger:     &log,
		Registerer: reg,
	})
}

func newServeCmd(flags *cliFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local debug HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			log := newLogger(cfg.LogLevel)
			reg := prometheus.NewRegistry()
			eng, err := buildEngine(cfg, log, reg)
			if err != nil {
				return err
			}
			api := httpapi.NewServer(eng, log, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: cfg.Addr, Handler: api.Router()}

			go func() {
				log.Info().Str("addr", cfg.Addr).Str("model", cfg.Model.Name).Msg("listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown")
			}
			return eng.UnloadModel()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. 127.0.0.1:8090")
	return cmd
}

func newGenerateCmd(flags *cliFlags) *cobra.Command {
	var maxTokens int
	var temperature float32
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run one blocking generation and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(flags)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			eng, err := buildEngine(cfg, log, nil)
			if err != nil {
				return err
			}
			defer func() { _ = eng.UnloadModel() }()
			resp, err := eng.Generate(strings.Join(args, " "), maxTokens, temperature)
			if err != nil {
				return err
			}
			fmt.Println(resp.Text)
			log.Info().Int("tokens", resp.TokensGenerated).Dur("took", resp.Elapsed).Msg("done")
			return nil
		},
	}
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 256, "Maximum number of new tokens")
	cmd.Flags().Float32Var(&temperature, "temperature", 0.7, "Sampling temperature (reserved; sampling is greedy)")
	return cmd
}

func newStreamCmd(flags *cliFlags) *cobra.Command {
	var maxTokens int
	var temperature float32
	cmd := &cobra.Command{
		Use:   "stream [prompt]",
		Short: "Stream a generation token by token to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(flags)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			eng, err := buildEngine(cfg, log, nil)
			if err != nil {
				return err
			}
			defer func() { _ = eng.UnloadModel() }()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			ch, err := eng.GenerateStream(ctx, strings.Join(args, " "), maxTokens, temperature)
			if err != nil {
				return err
			}
			for res := range ch {
				if res.Err != nil {
					return res.Err
				}
				fmt.Print(res.Chunk.Text)
				if res.Chunk.IsFinal {
					fmt.Println()
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 256, "Maximum number of new tokens")
	cmd.Flags().Float32Var(&temperature, "temperature", 0.7, "Sampling temperature (reserved; sampling is greedy)")
	return cmd
}

func newHealthCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Load the model and run a minimal generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(flags)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)
			eng, err := buildEngine(cfg, log, nil)
			if err != nil {
				return err
			}
			defer func() { _ = eng.UnloadModel() }()
			if err := eng.LoadModel(); err != nil {
				return err
			}
			if err := eng.HealthCheck(); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newModelsCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List *.gguf files in the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(flags)
			if err != nil {
				return err
			}
			dir, err := resolver.NewDir(cfg.ModelsDir)
			if err != nil {
				return err
			}
			names, err := dir.Scan()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("no models found")
				return nil
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
}
