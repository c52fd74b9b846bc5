// Package config handles video2slides configuration
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/binh234/video2slides/internal/dedup"
	apperrors "github.com/binh234/video2slides/internal/errors"
	"github.com/binh234/video2slides/internal/motion"
)

type Config struct {
	Classifier        string  `yaml:"classifier"`
	History           int     `yaml:"history"`
	DecisionThreshold float64 `yaml:"decision_threshold"`
	Dist2Threshold    float64 `yaml:"dist2_threshold"`
	MinPercent        float64 `yaml:"min_percent"`
	MaxPercent        float64 `yaml:"max_percent"`

	HashFunc   string `yaml:"hash_func"`
	HashSize   int    `yaml:"hash_size"`
	QueueLen   int    `yaml:"queue_len"`
	Similarity int    `yaml:"similarity"`

	OutputDir   string `yaml:"output_dir"`
	DownloadDir string `yaml:"download_dir"`
	PostProcess bool   `yaml:"post_process"`
	ConvertPDF  bool   `yaml:"convert_pdf"`

	Prefetch    int    `yaml:"prefetch"` // decode-ahead frames, 0 = synchronous
	FFmpegPath  string `yaml:"ffmpeg"`
	FFprobePath string `yaml:"ffprobe"`

	HTTPAddr    string   `yaml:"http_addr"`
	MaxJobs     int      `yaml:"max_jobs"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Default returns the settings of the command-line tool.
func Default() *Config {
	return &Config{
		Classifier:        "GMG",
		History:           15,
		DecisionThreshold: 0.75,
		Dist2Threshold:    100,
		MinPercent:        0.15,
		MaxPercent:        0.01,
		HashFunc:          "dhash",
		HashSize:          dedup.DefaultHashSize,
		QueueLen:          dedup.DefaultQueueLen,
		Similarity:        dedup.DefaultSimilarity,
		OutputDir:         "out",
		DownloadDir:       "downloads",
		PostProcess:       true,
		ConvertPDF:        false,
		Prefetch:          8,
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		HTTPAddr:          ":8000",
		MaxJobs:           2,
		CORSOrigins:       []string{"*"},
	}
}

// Load reads the environment, after loading an optional .env file.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env", "error", err)
	}

	d := Default()
	return &Config{
		Classifier:        getEnv("V2S_CLASSIFIER", d.Classifier),
		History:           getEnvInt("V2S_HISTORY", d.History),
		DecisionThreshold: getEnvFloat("V2S_DECISION_THRESHOLD", d.DecisionThreshold),
		Dist2Threshold:    getEnvFloat("V2S_DIST2_THRESHOLD", d.Dist2Threshold),
		MinPercent:        getEnvFloat("V2S_MIN_PERCENT", d.MinPercent),
		MaxPercent:        getEnvFloat("V2S_MAX_PERCENT", d.MaxPercent),
		HashFunc:          getEnv("V2S_HASH_FUNC", d.HashFunc),
		HashSize:          getEnvInt("V2S_HASH_SIZE", d.HashSize),
		QueueLen:          getEnvInt("V2S_QUEUE_LEN", d.QueueLen),
		Similarity:        getEnvInt("V2S_SIMILARITY", d.Similarity),
		OutputDir:         getEnv("V2S_OUTPUT_DIR", d.OutputDir),
		DownloadDir:       getEnv("V2S_DOWNLOAD_DIR", d.DownloadDir),
		PostProcess:       getEnvBool("V2S_POST_PROCESS", d.PostProcess),
		ConvertPDF:        getEnvBool("V2S_CONVERT_PDF", d.ConvertPDF),
		Prefetch:          getEnvInt("V2S_PREFETCH", d.Prefetch),
		FFmpegPath:        getEnv("V2S_FFMPEG", d.FFmpegPath),
		FFprobePath:       getEnv("V2S_FFPROBE", d.FFprobePath),
		HTTPAddr:          getEnv("V2S_HTTP_ADDR", d.HTTPAddr),
		MaxJobs:           getEnvInt("V2S_MAX_JOBS", d.MaxJobs),
		CORSOrigins:       getEnvList("V2S_CORS_ORIGINS", d.CORSOrigins),
	}
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "parse config %s", path)
	}
	return nil
}

// Validate rejects settings that would make a run meaningless. A non-positive
// queue length is not an error: it falls back to the default with a warning.
func (c *Config) Validate() error {
	if _, err := motion.ParseKind(c.Classifier); err != nil {
		return err
	}
	if _, err := dedup.ParseAlgorithm(c.HashFunc); err != nil {
		return err
	}
	if c.MinPercent < 0 || c.MinPercent > 100 || c.MaxPercent < 0 || c.MaxPercent > 100 {
		return apperrors.Newf(apperrors.CodeConfigInvalid,
			"percent thresholds must lie in [0,100], got min=%v max=%v", c.MinPercent, c.MaxPercent)
	}
	if c.MinPercent <= c.MaxPercent {
		return apperrors.Newf(apperrors.CodeConfigInvalid,
			"min percent (%v) must exceed max percent (%v)", c.MinPercent, c.MaxPercent)
	}
	if c.History <= 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "history must be positive, got %d", c.History)
	}
	if c.HashSize <= 0 || c.HashSize%2 != 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "hash size must be a positive even number, got %d", c.HashSize)
	}
	if c.Similarity < dedup.MinSimilarity || c.Similarity > dedup.MaxSimilarity {
		return apperrors.Newf(apperrors.CodeConfigInvalid,
			"similarity must lie in [%d,%d], got %d", dedup.MinSimilarity, dedup.MaxSimilarity, c.Similarity)
	}
	if c.Prefetch < 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "prefetch must not be negative, got %d", c.Prefetch)
	}
	if c.MaxJobs <= 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "max jobs must be positive, got %d", c.MaxJobs)
	}
	if c.QueueLen <= 0 {
		slog.Warn("queue length must be positive, using default", "queue_len", c.QueueLen, "default", dedup.DefaultQueueLen)
		c.QueueLen = dedup.DefaultQueueLen
	}
	return nil
}

// Clone returns an independent copy, for per-job overrides.
func (c *Config) Clone() *Config {
	cp := *c
	cp.CORSOrigins = append([]string(nil), c.CORSOrigins...)
	return &cp
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
