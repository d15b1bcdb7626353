// ABOUTME: Entry point for the concierge conversation engine
// ABOUTME: Wires the store, pipeline, messaging adapter and ops API together

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaywise/concierge/internal/auth"
	"github.com/relaywise/concierge/internal/config"
	"github.com/relaywise/concierge/internal/conversation"
	"github.com/relaywise/concierge/internal/dedupe"
	"github.com/relaywise/concierge/internal/escalation"
	"github.com/relaywise/concierge/internal/gateway"
	"github.com/relaywise/concierge/internal/generate"
	"github.com/relaywise/concierge/internal/knowledge"
	"github.com/relaywise/concierge/internal/messaging"
	"github.com/relaywise/concierge/internal/metrics"
	"github.com/relaywise/concierge/internal/notify"
	"github.com/relaywise/concierge/internal/pipeline"
	"github.com/relaywise/concierge/internal/rules"
	"github.com/relaywise/concierge/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _
  ___ ___  _ __   ___(_) ___ _ __ __ _  ___
 / __/ _ \| '_ \ / __| |/ _ \ '__/ _' |/ _ \
| (_| (_) | | | | (__| |  __/ | | (_| |  __/
 \___\___/|_| |_|\___|_|\___|_|  \__, |\___|
                                 |___/
`

// getConfigPath returns the path to the concierge config file.
// Priority: CONCIERGE_CONFIG env var > XDG_CONFIG_HOME/concierge/concierge.yaml > ~/.config/concierge/concierge.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CONCIERGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "concierge.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "concierge", "concierge.yaml")
}

// getDataPath returns the path to the concierge data directory.
// Priority: XDG_DATA_HOME/concierge > ~/.local/share/concierge
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "concierge")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: concierge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                    Start the conversation engine")
		fmt.Println("  init                     Create a new config file interactively")
		fmt.Println("  token --operator NAME    Issue an ops API token for an operator")
		fmt.Println("  health                   Check engine health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Ops API:   %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Platform:  %s\n", cfg.Messaging.Platform)
	fmt.Println()

	logger.Info("starting concierge",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"platform", cfg.Messaging.Platform,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	ruleSet := rules.DefaultSet()
	if cfg.Rules.Path != "" {
		ruleSet, err = rules.Load(cfg.Rules.Path)
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}
	}

	convs := conversation.NewManager(st, cfg.Pipeline.HistoryLimit, logger)
	detector := conversation.NewDetector(cfg.Pipeline.LongGap, cfg.Pipeline.ShortGap)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notifier.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notifier.WebhookURL, logger)
	}
	esc := escalation.NewCoordinator(st, convs, notifier, logger)

	client := generate.NewClient(cfg.Generator.Endpoint, cfg.Generator.APIKey,
		cfg.Generator.Model, cfg.Generator.RequestTimeout)

	oracle := knowledge.NewOracle(st, cfg.Knowledge.SearchLimit, logger)
	if cfg.Knowledge.Dir != "" {
		n, err := oracle.IngestDir(ctx, cfg.Knowledge.Dir)
		if err != nil {
			return fmt.Errorf("ingesting knowledge base: %w", err)
		}
		logger.Info("knowledge base loaded", "dir", cfg.Knowledge.Dir, "facts", n)
	}

	var registry *prometheus.Registry
	m := metrics.NewNop()
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		m = metrics.New(registry)
	}

	adapter, err := buildAdapter(cfg.Messaging, logger)
	if err != nil {
		return err
	}

	// Stalling messages between generation attempts go straight out
	// through the adapter instead of waiting for the final reply.
	interim := func(ctx context.Context, conversationID, text string) error {
		return adapter.SendMessage(ctx, conversationID, text)
	}

	p := pipeline.New(pipeline.Config{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		ComplexityThreshold: cfg.Pipeline.ComplexityThreshold,
		EmotionThreshold:    cfg.Pipeline.EmotionThreshold,
		ProbingThreshold:    cfg.Pipeline.ProbingThreshold,
		OffTopicLimit:       cfg.Pipeline.OffTopicLimit,
		OpenHour:            cfg.Pipeline.OpenHour,
		CloseHour:           cfg.Pipeline.CloseHour,
		OffHoursRepeat:      cfg.Pipeline.OffHoursRepeat,
		MaxAttempts:         cfg.Generator.MaxAttempts,
		RetryDelay:          cfg.Generator.RetryDelay,
		StallingMessages:    cfg.Generator.StallingMessages,
		FallbackText:        cfg.Generator.FallbackText,
		MaxTokens:           cfg.Generator.MaxTokens,
		Temperature:         cfg.Generator.Temperature,
	}, convs, detector, ruleSet, client, oracle, client, esc, interim, m, logger)

	tracker := dedupe.NewTracker(10*time.Minute, 4096)
	defer tracker.Close()

	engine := gateway.NewEngine(adapter, p, tracker,
		cfg.Batching.DebounceWindow, cfg.Batching.DebounceCeil, cfg.Batching.GreetingDelay,
		cfg.Batching.MaxConcurrency, rules.NewGreetingMatcher(ruleSet.Greetings), logger)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("auth.jwt_secret not set, ops API is unauthenticated")
	}

	api := gateway.NewAPI(st, convs, esc, verifier, registry, logger)
	httpSrv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("ops API listening", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("ops API server: %w", err)
		}
	}()
	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops API shutdown failed", "error", err)
	}
	return nil
}

func buildAdapter(cfg config.MessagingConfig, logger *slog.Logger) (messaging.Adapter, error) {
	switch cfg.Platform {
	case "", "telegram":
		if cfg.Token == "" {
			return nil, fmt.Errorf("messaging.token is required for telegram")
		}
		return messaging.NewTelegramAdapter(cfg.BaseURL, cfg.Token, cfg.PollTimeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown messaging platform: %s", cfg.Platform)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runToken issues a signed ops API token so an operator can accept and
// resolve handoffs: concierge token --operator "alice"
func runToken() error {
	var operator string
	ttl := 30 * 24 * time.Hour
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--operator" || arg == "-o":
			if i+1 >= len(args) {
				return fmt.Errorf("--operator requires a value")
			}
			operator = args[i+1]
			i++
		case strings.HasPrefix(arg, "--operator="):
			operator = strings.TrimPrefix(arg, "--operator=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	operator = strings.TrimSpace(operator)
	if operator == "" {
		return fmt.Errorf("--operator flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(operator, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Token for %s (expires %s)\n\n", operator, time.Now().Add(ttl).Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("concierge configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "concierge.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "Ops API address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Messaging Configuration ---")
	tgToken := prompt(reader, "Telegram bot token (leave empty to set via env)", "")

	fmt.Println("\n--- Generator Configuration ---")
	genEndpoint := prompt(reader, "Generation API endpoint", "https://api.openai.com/v1")
	genModel := prompt(reader, "Model", "gpt-4o-mini")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Random secret for the ops API
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	var cfg strings.Builder
	cfg.WriteString("# concierge configuration\n")
	cfg.WriteString("# Generated by concierge init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString("\n")

	cfg.WriteString("batching:\n")
	cfg.WriteString("  debounce_window: \"6s\"\n")
	cfg.WriteString("  debounce_ceiling: \"30s\"\n")
	cfg.WriteString("  greeting_delay: \"2s\"\n")
	cfg.WriteString("  max_concurrency: 16\n")
	cfg.WriteString("\n")

	cfg.WriteString("pipeline:\n")
	cfg.WriteString("  confidence_threshold: 0.4\n")
	cfg.WriteString("  complexity_threshold: 0.8\n")
	cfg.WriteString("  emotion_threshold: 0.7\n")
	cfg.WriteString("  probing_threshold: 0.8\n")
	cfg.WriteString("  off_topic_limit: 3\n")
	cfg.WriteString("  open_hour: 9\n")
	cfg.WriteString("  close_hour: 21\n")
	cfg.WriteString("\n")

	cfg.WriteString("generator:\n")
	cfg.WriteString(fmt.Sprintf("  endpoint: \"%s\"\n", genEndpoint))
	cfg.WriteString("  api_key: \"${GENERATOR_API_KEY}\"\n")
	cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", genModel))
	cfg.WriteString("  max_attempts: 3\n")
	cfg.WriteString("  retry_delay: \"2s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("messaging:\n")
	cfg.WriteString("  platform: \"telegram\"\n")
	if tgToken != "" {
		cfg.WriteString(fmt.Sprintf("  token: \"%s\"\n", tgToken))
	} else {
		cfg.WriteString("  token: \"${TELEGRAM_BOT_TOKEN}\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the engine:")
	fmt.Printf("  concierge serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
