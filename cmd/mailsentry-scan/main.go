package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mailsentry/mailsentry/internal/config"
	"github.com/mailsentry/mailsentry/internal/core"
	"github.com/mailsentry/mailsentry/internal/factory"
	"github.com/mailsentry/mailsentry/internal/logging"
	"go.uber.org/zap"
)

var (
	// Analysis provider flags
	provider = flag.String("provider", "remote", "Analysis provider (remote, openai)")
	baseURL  = flag.String("base-url", "http://localhost:8000", "Base URL of the remote scoring service")
	timeout  = flag.String("timeout", "10s", "Timeout for the scoring call")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4", "OpenAI model name")
	maxTokens       = flag.Int("max-tokens", 1000, "Maximum tokens for the model response")
	temperature     = flag.Float64("temperature", 0.1, "Temperature for model generation")
	topP            = flag.Float64("top-p", 0.9, "Top-p for model generation")
	maxBodySize     = flag.Int("max-body-size", 4096, "Maximum content size to send to the model")

	// Item flags
	sender      = flag.String("sender", "", "Sender address of the scanned item")
	urlList     = flag.String("urls", "", "Comma-separated list of URLs found in the item")
	privateMode = flag.Bool("private-mode", true, "Redact the item in service-side logs")

	// Input flags
	inputFile  = flag.String("file", "", "Input text file (use stdin if not specified)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()

	var cfg *config.Config
	var err error

	// Initialize logger
	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration from file if specified
	if *configFile != "" {
		cfg, err = config.New()
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		// Create config from command line flags
		cfg = createConfigFromFlags()
	}

	// Initialize analysis client
	analysisFactory := factory.NewAnalysisFactory(cfg, logger)
	client, err := analysisFactory.CreateAnalysisClient()
	if err != nil {
		logger.Fatal("Failed to create analysis client", zap.Error(err))
	}

	// Parse URL list
	var urls []string
	if *urlList != "" {
		urls = strings.Split(*urlList, ",")
		for i, u := range urls {
			urls[i] = strings.TrimSpace(u)
		}
	} else {
		urls = cfg.GetStringSlice("scan.urls")
	}

	// Read the item text from file or stdin
	var textReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", *inputFile))
		}
		defer file.Close()
		textReader = file
		logger.Info("Reading item from file", zap.String("file", *inputFile))
	} else {
		textReader = os.Stdin
		logger.Info("Reading item from stdin")
	}

	textBytes, err := io.ReadAll(bufio.NewReader(textReader))
	if err != nil {
		logger.Fatal("Failed to read item text", zap.Error(err))
	}
	text := strings.TrimSpace(string(textBytes))
	if text == "" {
		logger.Fatal("Item text is empty")
	}

	// Print item summary
	fmt.Printf("\n=== Item Summary ===\n")
	fmt.Printf("Sender: %s\n", *sender)
	fmt.Printf("URLs: %d\n", len(urls))
	fmt.Printf("Text length: %d bytes\n", len(text))
	fmt.Printf("\n")

	// Analyze the item
	fmt.Printf("=== Analysis ===\n")
	fmt.Printf("Provider: %s\n", cfg.GetString("analysis.provider"))

	startTime := time.Now()
	verdict, err := client.Analyze(context.Background(), core.AnalysisRequest{
		Content:     text,
		Sender:      *sender,
		URLs:        urls,
		PrivateMode: *privateMode,
	})
	if err != nil {
		logger.Fatal("Failed to analyze item", zap.Error(err))
	}
	duration := time.Since(startTime)

	// Print results
	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("Risk level: %s (%s)\n", verdict.Level, verdict.Level.Label())
	fmt.Printf("Risk score: %d\n", verdict.Score)
	if verdict.URLScore != nil {
		fmt.Printf("URL score: %.1f\n", *verdict.URLScore)
	}
	fmt.Printf("Confidence: %s\n", verdict.Confidence)
	fmt.Printf("Category: %s\n", verdict.Category)
	fmt.Printf("Reasoning: %s\n", verdict.Reasoning)
	fmt.Printf("Provider: %s\n", verdict.Provider)
	fmt.Printf("Processing time: %v\n", duration)
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	// Set analysis provider
	v.Set("analysis.provider", *provider)

	// Set provider-specific configuration
	switch *provider {
	case "remote":
		v.Set("analysis.base_url", *baseURL)
		v.Set("analysis.timeout", *timeout)
	case "openai":
		v.Set("openai.api_key", *openaiAPIKey)
		v.Set("openai.model_name", *openaiModelName)
		v.Set("openai.max_tokens", *maxTokens)
		v.Set("openai.temperature", *temperature)
		v.Set("openai.top_p", *topP)
		v.Set("openai.max_body_size", *maxBodySize)
	}

	return config.NewFromViper(v)
}
