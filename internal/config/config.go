package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth
	ExamgestAPIKey string

	// Vision inference service
	VisionProvider    string // openai | ollama | anthropic
	VisionModel       string
	VisionAPIKey      string
	VisionBaseURL     string
	VisionMaxTokens   int
	VisionTemperature float64
	VisionCallTimeout time.Duration
	VisionCallDelay   time.Duration // minimum delay between calls

	// Rendering
	RenderScale   float64
	OverviewScale float64 // downscale factor for the structure overview pass
	RefineScale   float64 // elevated magnification for specialized refinement

	// Segmentation
	ChunkHeight  int // continuous-mode window height in pixels
	ChunkOverlap int // continuous-mode overlap in pixels
	PageSliver   int // page-mode next-page sliver in pixels (0 disables)
	JPEGQuality  int

	// Worker pool
	WorkerCount          int
	MaxQueueSize         int
	MaxConcurrentExtract int

	// Upload limits
	MaxUploadBytes int64

	// Structure analysis
	CountTolerance int // allowed overview/detailed total disagreement

	// Validation
	MinQuestionLen   int
	MinOptionLen     int
	ComplexChoiceMin int // option count that routes to complex-choice refinement

	// Audit
	SimilarityThreshold float64

	// Job state
	JobTTL time.Duration

	// Results hand-off (optional)
	HandoffURL   string
	HandoffToken string
}

func defaults() Config {
	return Config{
		Port: "8090",

		VisionProvider:    "openai",
		VisionModel:       "gpt-4o-mini",
		VisionMaxTokens:   4096,
		VisionTemperature: 0.1,
		VisionCallTimeout: 120 * time.Second,
		VisionCallDelay:   500 * time.Millisecond,

		RenderScale:   1.0,
		OverviewScale: 0.35,
		RefineScale:   1.6,

		ChunkHeight:  2200,
		ChunkOverlap: 300,
		PageSliver:   260,
		JPEGQuality:  90,

		WorkerCount:          2,
		MaxQueueSize:         50,
		MaxConcurrentExtract: 4,

		MaxUploadBytes: 52428800, // 50MB

		CountTolerance: 3,

		MinQuestionLen:   5,
		MinOptionLen:     1,
		ComplexChoiceMin: 5,

		SimilarityThreshold: 0.85,

		JobTTL: 1 * time.Hour,
	}
}

// Load builds the configuration from defaults, an optional YAML overrides
// file, and the environment, in that order (environment wins).
func Load() (Config, error) {
	cfg := defaults()

	if path := findConfigFile(); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	clamp(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envOr("PORT", cfg.Port)

	cfg.ExamgestAPIKey = envOr("EXAMGEST_API_KEY", cfg.ExamgestAPIKey)

	cfg.VisionProvider = envOr("VISION_PROVIDER", cfg.VisionProvider)
	cfg.VisionModel = envOr("VISION_MODEL", cfg.VisionModel)
	cfg.VisionAPIKey = envOr("VISION_API_KEY", cfg.VisionAPIKey)
	cfg.VisionBaseURL = envOr("VISION_BASE_URL", cfg.VisionBaseURL)
	cfg.VisionMaxTokens = envInt("VISION_MAX_TOKENS", cfg.VisionMaxTokens)
	cfg.VisionTemperature = envFloat("VISION_TEMPERATURE", cfg.VisionTemperature)
	cfg.VisionCallTimeout = envDuration("VISION_CALL_TIMEOUT", cfg.VisionCallTimeout)
	cfg.VisionCallDelay = envDuration("VISION_CALL_DELAY", cfg.VisionCallDelay)

	cfg.RenderScale = envFloat("RENDER_SCALE", cfg.RenderScale)
	cfg.OverviewScale = envFloat("OVERVIEW_SCALE", cfg.OverviewScale)
	cfg.RefineScale = envFloat("REFINE_SCALE", cfg.RefineScale)

	cfg.ChunkHeight = envInt("CHUNK_HEIGHT", cfg.ChunkHeight)
	cfg.ChunkOverlap = envInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.PageSliver = envInt("PAGE_SLIVER", cfg.PageSliver)
	cfg.JPEGQuality = envInt("JPEG_QUALITY", cfg.JPEGQuality)

	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.MaxConcurrentExtract = envInt("MAX_CONCURRENT_EXTRACT", cfg.MaxConcurrentExtract)

	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)

	cfg.CountTolerance = envInt("COUNT_TOLERANCE", cfg.CountTolerance)

	cfg.MinQuestionLen = envInt("MIN_QUESTION_LEN", cfg.MinQuestionLen)
	cfg.MinOptionLen = envInt("MIN_OPTION_LEN", cfg.MinOptionLen)
	cfg.ComplexChoiceMin = envInt("COMPLEX_CHOICE_MIN", cfg.ComplexChoiceMin)

	cfg.SimilarityThreshold = envFloat("SIMILARITY_THRESHOLD", cfg.SimilarityThreshold)

	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)

	cfg.HandoffURL = envOr("HANDOFF_URL", cfg.HandoffURL)
	cfg.HandoffToken = envOr("HANDOFF_TOKEN", cfg.HandoffToken)
}

func clamp(cfg *Config) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	if cfg.MaxConcurrentExtract <= 0 {
		cfg.MaxConcurrentExtract = 4
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.RenderScale < 1.0 {
		cfg.RenderScale = 1.0
	}
	if cfg.OverviewScale <= 0 || cfg.OverviewScale > 1.0 {
		cfg.OverviewScale = 0.35
	}
	if cfg.RefineScale < 1.0 {
		cfg.RefineScale = 1.6
	}
	if cfg.ChunkHeight <= 0 {
		cfg.ChunkHeight = 2200
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 300
	}
	if cfg.PageSliver < 0 {
		cfg.PageSliver = 0
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if cfg.CountTolerance < 0 {
		cfg.CountTolerance = 3
	}
	if cfg.MinQuestionLen <= 0 {
		cfg.MinQuestionLen = 5
	}
	if cfg.MinOptionLen <= 0 {
		cfg.MinOptionLen = 1
	}
	if cfg.ComplexChoiceMin < 3 {
		cfg.ComplexChoiceMin = 5
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.VisionCallTimeout <= 0 {
		cfg.VisionCallTimeout = 120 * time.Second
	}
	if cfg.VisionCallDelay < 0 {
		cfg.VisionCallDelay = 0
	}
	if cfg.VisionMaxTokens <= 0 {
		cfg.VisionMaxTokens = 4096
	}
}

func (c Config) Validate() error {
	if c.ExamgestAPIKey == "" {
		return fmt.Errorf("EXAMGEST_API_KEY is required")
	}
	switch c.VisionProvider {
	case "openai", "anthropic":
		if c.VisionAPIKey == "" {
			return fmt.Errorf("VISION_API_KEY is required for provider %q", c.VisionProvider)
		}
	case "ollama":
		// Local inference, no key.
	default:
		return fmt.Errorf("unknown VISION_PROVIDER %q (want openai, ollama or anthropic)", c.VisionProvider)
	}
	if c.VisionModel == "" {
		return fmt.Errorf("VISION_MODEL is required")
	}
	if c.ChunkOverlap >= c.ChunkHeight {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_HEIGHT (%d)", c.ChunkOverlap, c.ChunkHeight)
	}
	if c.HandoffURL != "" && c.HandoffToken == "" {
		return fmt.Errorf("HANDOFF_TOKEN is required when HANDOFF_URL is set")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
