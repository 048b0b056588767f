package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port       string
	StorageDir string

	DatabaseURL string

	// VectorBackend selects the vector index: "pgvector" (default, shares
	// the Postgres pool) or "qdrant".
	VectorBackend    string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// RedisAddr enables the Redis query-embedding cache when set; otherwise
	// an in-memory cache is used.
	RedisAddr string

	TextModelPath  string
	ImageModelPath string
	TokenizerPath  string
	OnnxLibrary    string
	Dimensions     int

	BatchSize      int
	MaxAttempts    int
	RetryDelay     time.Duration
	StaleAge       time.Duration
	Interval       time.Duration
	EmbedPerSecond float64
	Oversample     int
}

func Load() Config {
	return Config{
		Port:       getenv("PORT", "8080"),
		StorageDir: getenv("STORAGE_DIR", "./storage"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		VectorBackend:    getenv("VECTOR_BACKEND", "pgvector"),
		QdrantURL:        os.Getenv("QDRANT_URL"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantCollection: getenv("QDRANT_COLLECTION", "images"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		TextModelPath:  getenv("TEXT_MODEL_PATH", "./model/text_model.onnx"),
		ImageModelPath: getenv("IMAGE_MODEL_PATH", "./model/image_model.onnx"),
		TokenizerPath:  getenv("TOKENIZER_PATH", "./model/tokenizer.json"),
		OnnxLibrary:    getenv("ONNX_LIBRARY_PATH", "./model/libonnxruntime.so"),
		Dimensions:     getint("EMBEDDING_DIMENSIONS", 512),

		BatchSize:      getint("PIPELINE_BATCH_SIZE", 10),
		MaxAttempts:    getint("PIPELINE_MAX_ATTEMPTS", 5),
		RetryDelay:     getdur("PIPELINE_RETRY_DELAY", 60*time.Second),
		StaleAge:       getdur("PIPELINE_STALE_AGE", 10*time.Minute),
		Interval:       getdur("PIPELINE_INTERVAL", 30*time.Second),
		EmbedPerSecond: getfloat("PIPELINE_EMBED_PER_SECOND", 5),
		Oversample:     getint("SEARCH_OVERSAMPLE", 3),
	}
}

// ConfigureLogging sets the global logrus level from LOG_LEVEL.
func ConfigureLogging() {
	level, err := logrus.ParseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getfloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
