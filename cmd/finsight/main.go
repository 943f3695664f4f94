package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"finsight/internal/capture"
	"finsight/internal/config"
	"finsight/internal/download"
	"finsight/internal/embedding"
	"finsight/internal/graph"
	"finsight/internal/llm"
	"finsight/internal/logging"
	"finsight/internal/process"
	"finsight/internal/store"
	"finsight/internal/symbols"
)

const version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string
	threadID   string
	dbPath     string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "finsight",
	Short: "finsight - financial Q&A over filings, transcripts, and price charts",
	Long: `finsight answers questions about listed Indian companies by combining
a local document index with live price-chart capture.

Each question runs through a four-node pipeline: a sufficiency gate that
checks whether already-indexed data can answer it, a classifier that
plans which documents and price ranges to fetch, a retriever that
acquires and indexes them, and a synthesizer that composes a sourced,
confidence-scored answer.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// askCmd answers a single question and exits
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single financial question",
	Long: `Runs one question through the full pipeline and prints the answer,
its sources, and a confidence score. Pass --thread to continue an
earlier conversation; otherwise a fresh thread is created.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// chatCmd starts an interactive session on one thread
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation on a single thread",
	RunE:  runChat,
}

// inventoryCmd lists what the local index already holds
var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "List indexed documents and store statistics",
	RunE:  runInventory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the finsight version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("finsight %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "finsight.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Document store path (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Per-question timeout")

	askCmd.Flags().StringVar(&threadID, "thread", "", "Conversation thread id (default: new thread)")
	chatCmd.Flags().StringVar(&threadID, "thread", "", "Conversation thread id (default: new thread)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildEngine wires the full dependency graph from configuration. The
// returned cleanup closes the store and must run before exit.
func buildEngine() (*graph.Engine, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if dbPath != "" {
		cfg.Store.DatabasePath = dbPath
	}

	if err := logging.Initialize(cfg.Logging.Directory, verbose || cfg.Logging.Debug); err != nil {
		logger.Warn("category logging unavailable", zap.Error(err))
	}

	if cfg.LLM.APIKey == "" {
		return nil, nil, fmt.Errorf("no API key configured (set GEMINI_API_KEY or llm.api_key in %s)", configPath)
	}

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	if err != nil {
		logger.Warn("embedding engine unavailable, falling back to keyword search", zap.Error(err))
	} else {
		st.SetEmbeddingEngine(engine)
	}

	client := llm.NewGeminiClientWithConfig(llm.GeminiConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout(),
	})

	g := graph.New(graph.Deps{
		LLM:        client,
		Registry:   symbols.NewRegistry(),
		Store:      st,
		Downloader: download.NewClient(cfg.Download),
		Capture:    capture.NewEngine(cfg.Capture, cfg.Download.BaseURL),
		Processor:  process.New(),
	})

	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}
	return g, cleanup, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runAsk(cmd *cobra.Command, args []string) error {
	g, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	thread := threadID
	if thread == "" {
		thread = uuid.NewString()
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	question := strings.Join(args, " ")
	logger.Info("Processing question", zap.String("thread", thread))

	answer, err := g.Run(ctx, thread, question)
	if err != nil {
		return err
	}
	printAnswer(answer.Answer, answer.Sources, answer.Confidence)
	fmt.Printf("\nThread: %s\n", thread)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	g, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	thread := threadID
	if thread == "" {
		thread = uuid.NewString()
	}
	fmt.Printf("finsight chat (thread %s). Type 'exit' to quit.\n", thread)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			break
		}

		ctx, cancel := signalContext(context.Background())
		answer, err := g.Run(ctx, thread, question)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printAnswer(answer.Answer, answer.Sources, answer.Confidence)
		fmt.Println()
	}
	return scanner.Err()
}

func runInventory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Store.DatabasePath = dbPath
	}

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	docs, err := st.ListDocuments()
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("The document store is empty.")
		return nil
	}

	fmt.Printf("%-12s %-16s %-8s %-6s %7s\n", "SYMBOL", "TYPE", "YEAR", "MONTH", "CHUNKS")
	for _, d := range docs {
		fmt.Printf("%-12s %-16s %-8s %-6s %7d\n", d.Symbol, d.DocType, d.Year, d.Month, d.Chunks)
	}

	stats, err := st.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("\n%d documents, %d chunks, %d saved sessions\n",
		stats["documents"], stats["chunks"], stats["sessions"])
	return nil
}

func printAnswer(answer string, sources []string, confidence float64) {
	fmt.Println(answer)
	if len(sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range sources {
			fmt.Printf("  - %s\n", s)
		}
	}
	fmt.Printf("Confidence: %.0f%%\n", confidence*100)
}
