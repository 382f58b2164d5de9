package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the YAML overrides file searched for in the working
// directory and the home directory. An explicit path in EXAMGEST_CONFIG
// takes precedence.
const DefaultConfigFile = "examgest.yaml"

// duration accepts "90s"-style strings in YAML; bare integers are seconds.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = duration(time.Duration(n) * time.Second)
	return nil
}

// fileConfig mirrors Config with pointer fields so absent keys leave the
// defaults untouched.
type fileConfig struct {
	Port *string `yaml:"port"`

	APIKey *string `yaml:"api_key"`

	Vision struct {
		Provider    *string   `yaml:"provider"`
		Model       *string   `yaml:"model"`
		APIKey      *string   `yaml:"api_key"`
		BaseURL     *string   `yaml:"base_url"`
		MaxTokens   *int      `yaml:"max_tokens"`
		Temperature *float64  `yaml:"temperature"`
		CallTimeout *duration `yaml:"call_timeout"`
		CallDelay   *duration `yaml:"call_delay"`
	} `yaml:"vision"`

	Render struct {
		Scale         *float64 `yaml:"scale"`
		OverviewScale *float64 `yaml:"overview_scale"`
		RefineScale   *float64 `yaml:"refine_scale"`
	} `yaml:"render"`

	Segment struct {
		ChunkHeight  *int `yaml:"chunk_height"`
		ChunkOverlap *int `yaml:"chunk_overlap"`
		PageSliver   *int `yaml:"page_sliver"`
		JPEGQuality  *int `yaml:"jpeg_quality"`
	} `yaml:"segment"`

	Workers struct {
		Count             *int `yaml:"count"`
		QueueSize         *int `yaml:"queue_size"`
		ConcurrentExtract *int `yaml:"concurrent_extract"`
	} `yaml:"workers"`

	MaxUploadBytes *int64 `yaml:"max_upload_bytes"`

	Structure struct {
		CountTolerance *int `yaml:"count_tolerance"`
	} `yaml:"structure"`

	Validation struct {
		MinQuestionLen   *int `yaml:"min_question_len"`
		MinOptionLen     *int `yaml:"min_option_len"`
		ComplexChoiceMin *int `yaml:"complex_choice_min"`
	} `yaml:"validation"`

	Audit struct {
		SimilarityThreshold *float64 `yaml:"similarity_threshold"`
	} `yaml:"audit"`

	JobTTL *duration `yaml:"job_ttl"`

	Handoff struct {
		URL   *string `yaml:"url"`
		Token *string `yaml:"token"`
	} `yaml:"handoff"`
}

// findConfigFile resolves the overrides file: EXAMGEST_CONFIG if set, then
// ./examgest.yaml, then ~/.examgest.yaml. Returns "" if none exists.
func findConfigFile() string {
	if path := os.Getenv("EXAMGEST_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}

	if cwd, err := os.Getwd(); err == nil {
		p := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, "."+DefaultConfigFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyFile overlays YAML values onto cfg.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	setString(&cfg.Port, fc.Port)
	setString(&cfg.ExamgestAPIKey, fc.APIKey)

	setString(&cfg.VisionProvider, fc.Vision.Provider)
	setString(&cfg.VisionModel, fc.Vision.Model)
	setString(&cfg.VisionAPIKey, fc.Vision.APIKey)
	setString(&cfg.VisionBaseURL, fc.Vision.BaseURL)
	setInt(&cfg.VisionMaxTokens, fc.Vision.MaxTokens)
	setFloat(&cfg.VisionTemperature, fc.Vision.Temperature)
	setDuration(&cfg.VisionCallTimeout, fc.Vision.CallTimeout)
	setDuration(&cfg.VisionCallDelay, fc.Vision.CallDelay)

	setFloat(&cfg.RenderScale, fc.Render.Scale)
	setFloat(&cfg.OverviewScale, fc.Render.OverviewScale)
	setFloat(&cfg.RefineScale, fc.Render.RefineScale)

	setInt(&cfg.ChunkHeight, fc.Segment.ChunkHeight)
	setInt(&cfg.ChunkOverlap, fc.Segment.ChunkOverlap)
	setInt(&cfg.PageSliver, fc.Segment.PageSliver)
	setInt(&cfg.JPEGQuality, fc.Segment.JPEGQuality)

	setInt(&cfg.WorkerCount, fc.Workers.Count)
	setInt(&cfg.MaxQueueSize, fc.Workers.QueueSize)
	setInt(&cfg.MaxConcurrentExtract, fc.Workers.ConcurrentExtract)

	setInt64(&cfg.MaxUploadBytes, fc.MaxUploadBytes)

	setInt(&cfg.CountTolerance, fc.Structure.CountTolerance)

	setInt(&cfg.MinQuestionLen, fc.Validation.MinQuestionLen)
	setInt(&cfg.MinOptionLen, fc.Validation.MinOptionLen)
	setInt(&cfg.ComplexChoiceMin, fc.Validation.ComplexChoiceMin)

	setFloat(&cfg.SimilarityThreshold, fc.Audit.SimilarityThreshold)

	setDuration(&cfg.JobTTL, fc.JobTTL)

	setString(&cfg.HandoffURL, fc.Handoff.URL)
	setString(&cfg.HandoffToken, fc.Handoff.Token)

	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *duration) {
	if v != nil {
		*dst = time.Duration(*v)
	}
}
