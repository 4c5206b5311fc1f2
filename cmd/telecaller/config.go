package main

import (
	"time"

	"github.com/hubenschmidt/telecaller/internal/env"
	"github.com/hubenschmidt/telecaller/internal/prompts"
)

type config struct {
	port               string
	logLevel           string
	company            string
	maxConcurrentCalls int
	laneDepth          int
	maxHistoryLength   int
	chunkMaxLength     int
	maxAnswerLength    int
	interruptThreshold int
	interruptReset     string
	listenWindow       time.Duration
	gatherTimeout      time.Duration
	minConfidence      float64
	responderTimeout   time.Duration
	wholeWordClosings  bool

	sessionSweepInterval  time.Duration
	sessionTTL            time.Duration
	responseSweepInterval time.Duration
	responseTTL           time.Duration

	llmEngine       string
	llmModel        string
	llmMaxTokens    int
	llmPoolSize     int
	openaiAPIKey    string
	openaiBaseURL   string
	azureEndpoint   string
	azureAPIKey     string
	azureDeployment string
	azureAPIVersion string
	anthropicAPIKey string
	anthropicURL    string
	anthropicModel  string

	databaseURL   string
	archiveDir    string
	archiveBuffer int

	retryMaxAttempts  int
	retryInitialDelay time.Duration
	retryMaxDelay     time.Duration
}

func loadConfig() config {
	return config{
		port:               env.Str("PORT", "8000"),
		logLevel:           env.Str("LOG_LEVEL", "info"),
		company:            env.Str("COMPANY_NAME", prompts.DefaultCompany),
		maxConcurrentCalls: env.Int("MAX_CONCURRENT_CALLS", 100),
		laneDepth:          env.Int("LANE_DEPTH", 32),
		maxHistoryLength:   env.Int("MAX_HISTORY_LENGTH", 10),
		chunkMaxLength:     env.Int("CHUNK_MAX_LENGTH", 150),
		maxAnswerLength:    env.Int("MAX_ANSWER_LENGTH", 1000),
		interruptThreshold: env.Int("INTERRUPT_THRESHOLD", 3),
		interruptReset:     env.Str("INTERRUPT_RESET", "never"),
		listenWindow:       env.Duration("LISTEN_WINDOW", time.Second),
		gatherTimeout:      env.Duration("GATHER_TIMEOUT", 5*time.Second),
		minConfidence:      env.Float("MIN_SPEECH_CONFIDENCE", 0.3),
		responderTimeout:   env.Duration("RESPONDER_TIMEOUT", 30*time.Second),
		wholeWordClosings:  env.Str("CLOSING_MATCH", "substring") == "word",

		sessionSweepInterval:  env.Duration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		sessionTTL:            env.Duration("SESSION_TTL", 30*time.Minute),
		responseSweepInterval: env.Duration("RESPONSE_SWEEP_INTERVAL", time.Hour),
		responseTTL:           env.Duration("RESPONSE_TTL", time.Hour),

		llmEngine:       env.Str("LLM_ENGINE", "openai"),
		llmModel:        env.Str("LLM_MODEL", "gpt-4o-mini"),
		llmMaxTokens:    env.Int("LLM_MAX_TOKENS", 300),
		llmPoolSize:     env.Int("LLM_POOL_SIZE", 50),
		openaiAPIKey:    env.Str("OPENAI_API_KEY", ""),
		openaiBaseURL:   env.Str("OPENAI_BASE_URL", ""),
		azureEndpoint:   env.Str("AZURE_OPENAI_ENDPOINT", ""),
		azureAPIKey:     env.Str("AZURE_OPENAI_API_KEY", ""),
		azureDeployment: env.Str("AZURE_OPENAI_DEPLOYMENT_NAME", ""),
		azureAPIVersion: env.Str("AZURE_OPENAI_API_VERSION", "2024-06-01"),
		anthropicAPIKey: env.Str("ANTHROPIC_API_KEY", ""),
		anthropicURL:    env.Str("ANTHROPIC_URL", ""),
		anthropicModel:  env.Str("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),

		databaseURL:   env.Str("DATABASE_URL", ""),
		archiveDir:    env.Str("ARCHIVE_DIR", "data/archive"),
		archiveBuffer: env.Int("ARCHIVE_BUFFER", 256),

		retryMaxAttempts:  env.Int("RETRY_MAX_ATTEMPTS", 3),
		retryInitialDelay: env.Duration("RETRY_INITIAL_DELAY", 2*time.Second),
		retryMaxDelay:     env.Duration("RETRY_MAX_DELAY", 10*time.Second),
	}
}

// llmConfigured reports whether any language model credentials are set.
func (c config) llmConfigured() bool {
	return c.openaiConfigured() || c.anthropicAPIKey != ""
}

func (c config) openaiConfigured() bool {
	return c.openaiAPIKey != "" || c.azureEndpoint != "" || c.openaiBaseURL != ""
}
