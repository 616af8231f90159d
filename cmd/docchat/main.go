package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docchat-ai/docchat/internal/chat"
	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/config"
	"github.com/docchat-ai/docchat/internal/embed"
	"github.com/docchat-ai/docchat/internal/history"
	"github.com/docchat-ai/docchat/internal/ingest"
	"github.com/docchat-ai/docchat/internal/mcp"
	"github.com/docchat-ai/docchat/internal/retrieve"
	"github.com/docchat-ai/docchat/internal/search"
	"github.com/docchat-ai/docchat/internal/store"
	"github.com/docchat-ai/docchat/internal/vectorstore"
	"github.com/docchat-ai/docchat/internal/version"
	"github.com/docchat-ai/docchat/internal/web"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "docchat",
	Short:   "Chat with your documents using vector retrieval",
	Version: version.Full(),
	Long: `docchat ingests documents into per-document and combined vector
stores and answers questions about them using retrieval-augmented
generation.

Embeddings default to a local Ollama model, so documents never leave
your machine unless you configure the OpenAI provider.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docchat %s\n", version.Version)
		fmt.Printf("  commit:  %s\n", version.Commit)
		fmt.Printf("  built:   %s\n", version.Date)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize docchat in the current directory",
	Long: `Initialize a new docchat project in the current directory.
This creates a .docchat directory with the configuration, store
directories, and conversation history.`,
	RunE: runInit,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest documents into the stores",
	Long: `Scan the project directory and ingest every text document. Each
document gets its own store, and all chunks also land in the combined
store. With --watch, keeps running and reingests files as they change.`,
	RunE: runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the ingested documents",
	Long: `Search the ingested documents using natural language queries.
Returns the most relevant chunks ranked by the chosen strategy.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question about the documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session over the ingested documents.
The conversation is saved to the history directory on exit.`,
	RunE: runChat,
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List the available stores",
	RunE:  runStores,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project status",
	RunE:  runStatus,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API or MCP server",
	RunE:  runServe,
}

func init() {
	rootCmd.SetVersionTemplate("docchat version {{.Version}}\n")

	ingestCmd.Flags().Bool("watch", false, "keep running and reingest files as they change")

	searchCmd.Flags().IntP("limit", "n", retrieve.DefaultK, "maximum number of results")
	searchCmd.Flags().StringP("store", "s", "", "store to search (default: combined)")
	searchCmd.Flags().String("strategy", "similarity", "ranking strategy (similarity, mmr, threshold)")
	searchCmd.Flags().StringP("format", "f", "default", "output format (default, json)")

	askCmd.Flags().StringP("store", "s", "", "store to retrieve context from (default: combined)")

	statusCmd.Flags().StringP("format", "f", "default", "output format (default, json)")

	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().Bool("mcp", false, "serve MCP over stdio instead of HTTP")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(storesCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}

// app bundles the wired-up services the commands share.
type app struct {
	projectRoot string
	cfg         *config.Config
	registry    *store.Registry
	coordinator *store.Coordinator
	provider    embed.Provider
	searcher    *search.Searcher
	splitter    *chunk.Splitter
}

// openApp locates the project, loads config, and wires the services.
func openApp() (*app, error) {
	projectRoot, err := config.FindProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("not in a docchat project: run 'docchat init' first")
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	provider, err := embed.NewProvider(embed.Options{
		Type:       embed.ProviderType(cfg.Embedding.Provider),
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		OllamaURL:  cfg.Embedding.OllamaURL,
		APIKey:     cfg.Embedding.OpenAIAPIKey,
		BaseURL:    cfg.Embedding.OpenAIBaseURL,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	registry := store.NewRegistry(vectorstore.NewVecLiteBackend(provider), store.RegistryConfig{
		Dir:           cfg.StoresDir,
		MaxOpenStores: cfg.MaxOpenStores,
	})

	return &app{
		projectRoot: projectRoot,
		cfg:         cfg,
		registry:    registry,
		coordinator: store.NewCoordinator(registry),
		provider:    provider,
		searcher:    search.NewSearcher(registry, provider),
		splitter: chunk.NewSplitter(chunk.SplitterConfig{
			ChunkSize:    cfg.Chunking.ChunkSize,
			ChunkOverlap: cfg.Chunking.ChunkOverlap,
		}),
	}, nil
}

func (a *app) close() {
	if err := a.registry.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing stores: %v\n", err)
	}
}

// chatEngine builds the chat engine, or returns an error explaining
// what is missing.
func (a *app) chatEngine(storeName string) (*chat.Engine, error) {
	apiKey := a.cfg.Embedding.OpenAIAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("DOCCHAT_OPENAI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no OpenAI API key configured: set DOCCHAT_OPENAI_API_KEY to enable chat")
	}

	generator, err := chat.NewOpenAIGenerator(chat.OpenAIConfig{
		APIKey:      apiKey,
		BaseURL:     a.cfg.Embedding.OpenAIBaseURL,
		Model:       a.cfg.Chat.Model,
		Temperature: a.cfg.Chat.Temperature,
	})
	if err != nil {
		return nil, err
	}

	return chat.NewEngine(&storeRetriever{app: a, store: storeName}, generator), nil
}

// storeRetriever adapts the searcher to the chat engine's Retriever
// using the configured strategy.
type storeRetriever struct {
	app   *app
	store string
}

func (r *storeRetriever) Retrieve(ctx context.Context, query string) ([]retrieve.ScoredChunk, error) {
	strategy, err := r.app.strategyFromConfig()
	if err != nil {
		return nil, err
	}
	return r.app.searcher.Search(ctx, query, search.Options{Store: r.store, Strategy: strategy})
}

func (a *app) strategyFromConfig() (retrieve.Strategy, error) {
	strategy, err := buildStrategy(a.cfg.Retrieval.Strategy, a.cfg.Retrieval.K)
	if err != nil {
		return retrieve.Strategy{}, err
	}
	if a.cfg.Retrieval.MMRLambda > 0 {
		strategy.Lambda = a.cfg.Retrieval.MMRLambda
	}
	if a.cfg.Retrieval.ScoreThreshold > 0 {
		strategy.ScoreThreshold = a.cfg.Retrieval.ScoreThreshold
	}
	return strategy, nil
}

func buildStrategy(name string, k int) (retrieve.Strategy, error) {
	kind, err := retrieve.ParseKind(name)
	if err != nil {
		return retrieve.Strategy{}, err
	}
	switch kind {
	case retrieve.KindMMR:
		return retrieve.MMR(k), nil
	case retrieve.KindThreshold:
		return retrieve.Threshold(k), nil
	default:
		return retrieve.Similarity(k), nil
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create data directories: %w", err)
	}
	if err := cfg.WriteDefaultConfig(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Initialized docchat in %s\n", cfg.DataDir)
	fmt.Printf("  Stores: %s\n", cfg.StoresDir)
	fmt.Printf("  Embedding provider: %s (%s)\n", cfg.Embedding.Provider, cfg.Embedding.Model)
	fmt.Printf("\nAdd .docchat to your .gitignore file.\n")
	fmt.Printf("Run 'docchat ingest' to ingest your documents.\n")
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if err := a.provider.Ping(ctx); err != nil {
		return fmt.Errorf("embedding provider unavailable: %w\nMake sure the provider is running and the model %q is available", err, a.cfg.Embedding.Model)
	}

	scanner, err := ingest.NewScanner(a.projectRoot, ingest.ScanConfig{
		IgnorePatterns: a.cfg.Ingest.IgnorePatterns,
		MaxFileSize:    a.cfg.Ingest.MaxFileSize,
	})
	if err != nil {
		return err
	}
	ingester := ingest.NewIngester(scanner, a.splitter, a.coordinator)

	fmt.Printf("Ingesting %s...\n", a.projectRoot)
	result, err := ingester.IngestAll(ctx)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Files scanned:  %d\n", result.FilesScanned)
	fmt.Printf("  Files ingested: %d\n", result.FilesIngested)
	fmt.Printf("  Files skipped:  %d\n", result.FilesSkipped)
	fmt.Printf("  Chunks added:   %d\n", result.ChunksAdded)
	for _, f := range result.Failures {
		fmt.Printf("  warning: %s\n", f)
	}

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		return nil
	}

	watcher, err := ingest.NewWatcher(scanner, ingester, ingest.WatcherConfig{
		Debounce: debounceDuration(a.cfg),
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watchCtx, cancel := signalContext()
	defer cancel()

	if err := watcher.Start(watchCtx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	fmt.Println("\nWatching for changes. Press Ctrl-C to stop.")
	<-watchCtx.Done()
	return watcher.Stop()
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	query := strings.Join(args, " ")
	limit, _ := cmd.Flags().GetInt("limit")
	storeName, _ := cmd.Flags().GetString("store")
	strategyName, _ := cmd.Flags().GetString("strategy")
	format, _ := cmd.Flags().GetString("format")

	strategy, err := buildStrategy(strategyName, limit)
	if err != nil {
		return err
	}

	results, err := a.searcher.Search(cmd.Context(), query, search.Options{
		Store:    storeName,
		Strategy: strategy,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if format == "json" {
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No matching chunks.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. %s (chunk %d)", i+1, r.Source, r.Ordinal)
		if r.Scored {
			fmt.Printf("  score=%.3f", r.Score)
		}
		fmt.Printf("\n   %s\n\n", strings.ReplaceAll(r.Content, "\n", "\n   "))
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	storeName, _ := cmd.Flags().GetString("store")
	engine, err := a.chatEngine(storeName)
	if err != nil {
		return err
	}

	answer, err := engine.Ask(cmd.Context(), strings.Join(args, " "), nil)
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Printf("\nSources: %s\n", strings.Join(answer.Sources, ", "))
	}
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.chatEngine("")
	if err != nil {
		return err
	}

	histStore, err := history.NewStore(a.cfg.HistoryDir)
	if err != nil {
		return err
	}
	conversation := histStore.NewConversation("")

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println("docchat interactive session. Type 'exit' or press Ctrl-C to quit.")
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

		answer, err := engine.Ask(ctx, question, conversation.Messages)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		fmt.Printf("\n%s\n", answer.Text)
		if len(answer.Sources) > 0 {
			fmt.Printf("(sources: %s)\n", strings.Join(answer.Sources, ", "))
		}
		fmt.Println()

		conversation.Append(history.RoleUser, question, nil)
		conversation.Append(history.RoleAssistant, answer.Text, answer.Sources)
	}

	if len(conversation.Messages) > 0 {
		if err := histStore.Save(conversation); err != nil {
			fmt.Fprintf(os.Stderr, "warning: saving conversation: %v\n", err)
		} else {
			fmt.Printf("Conversation saved as %s\n", conversation.ID)
		}
	}
	return nil
}

func runStores(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	stores, err := a.registry.ListStores()
	if err != nil {
		return err
	}
	if len(stores) == 0 {
		fmt.Println("No stores yet. Run 'docchat ingest' to create them.")
		return nil
	}
	for _, name := range stores {
		fmt.Println(name)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	format, _ := cmd.Flags().GetString("format")
	stores, err := a.registry.ListStores()
	if err != nil {
		return err
	}

	if format == "json" {
		out, err := json.MarshalIndent(map[string]any{
			"project_root":    a.projectRoot,
			"stores_dir":      a.cfg.StoresDir,
			"store_count":     len(stores),
			"stores":          stores,
			"embedding_model": a.cfg.Embedding.Model,
			"provider":        a.cfg.Embedding.Provider,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("docchat status\n")
	fmt.Printf("  Project root: %s\n", a.projectRoot)
	fmt.Printf("  Stores dir: %s\n", a.cfg.StoresDir)
	fmt.Printf("  Embedding model: %s (%s)\n", a.cfg.Embedding.Model, a.cfg.Embedding.Provider)
	fmt.Printf("  Stores: %d\n", len(stores))
	for _, name := range stores {
		fmt.Printf("    - %s\n", name)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	mcpMode, _ := cmd.Flags().GetBool("mcp")

	ctx, cancel := signalContext()
	defer cancel()

	if err := a.registry.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize combined store: %w", err)
	}

	// Chat is optional: the servers degrade gracefully without a key.
	var asker web.Asker
	if engine, err := a.chatEngine(""); err == nil {
		asker = engine
	} else {
		fmt.Fprintf(os.Stderr, "note: %v\n", err)
	}

	if mcpMode {
		server := mcp.NewServer(mcp.ServerConfig{
			Searcher: a.searcher,
			Writer:   a.coordinator,
			Splitter: a.splitter,
			Asker:    asker,
		})
		return server.Run(ctx)
	}

	handler := web.NewHandler(a.searcher, a.coordinator, a.splitter, asker)
	server := web.NewServer(web.ServerConfig{Host: host, Port: port}, handler)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func debounceDuration(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Ingest.WatchDebounceMillis) * time.Millisecond
}
