package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	HTTP     HTTPConfig
	Ingest   IngestConfig
	Coverage CoverageConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers      []string
	TopicImports string
	GroupID      string
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type IngestConfig struct {
	BatchSize       int
	DownloadTimeout time.Duration
	CacheTTL        time.Duration
	CoverageFile    string
}

// CoverageBox is the expected geographic envelope of a dataset's service
// area, used by the integrity audit.
type CoverageBox struct {
	MinLat    float64 `yaml:"min_lat"`
	MaxLat    float64 `yaml:"max_lat"`
	MinLon    float64 `yaml:"min_lon"`
	MaxLon    float64 `yaml:"max_lon"`
	Tolerance float64 `yaml:"tolerance"`
}

// CoverageConfig maps dataset codes to their expected coverage boxes.
// The "default" entry applies to datasets without their own box.
type CoverageConfig struct {
	Boxes map[string]CoverageBox `yaml:"coverage"`
}

// BoxFor returns the coverage box for a dataset code, falling back to the
// default entry. The second return reports whether any box applies.
func (c CoverageConfig) BoxFor(code string) (CoverageBox, bool) {
	if box, ok := c.Boxes[code]; ok {
		return box, true
	}
	box, ok := c.Boxes["default"]
	return box, ok
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "irradiance_user"),
			Password: getEnv("DB_PASSWORD", "irradiance_pass"),
			DBName:   getEnv("DB_NAME", "irradiance_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:      strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicImports: getEnv("KAFKA_TOPIC_IMPORTS", "irradiance.imports"),
			GroupID:      getEnv("KAFKA_GROUP_ID", "importer-group"),
		},
		HTTP: HTTPConfig{
			Port:         getEnvAsInt("HTTP_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
		},
		Ingest: IngestConfig{
			BatchSize:       getEnvAsInt("INGEST_BATCH_SIZE", 500),
			DownloadTimeout: getEnvAsDuration("INGEST_DOWNLOAD_TIMEOUT", 30*time.Second),
			CacheTTL:        getEnvAsDuration("LOOKUP_CACHE_TTL", 7*24*time.Hour),
			CoverageFile:    getEnv("COVERAGE_FILE", "coverage.yaml"),
		},
	}

	coverage, err := loadCoverage(config.Ingest.CoverageFile)
	if err != nil {
		return nil, err
	}
	config.Coverage = coverage

	return config, nil
}

func loadCoverage(path string) (CoverageConfig, error) {
	var cov CoverageConfig

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// No coverage file means the audit skips the coverage check
		return CoverageConfig{Boxes: map[string]CoverageBox{}}, nil
	}
	if err != nil {
		return cov, fmt.Errorf("failed to read coverage file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cov); err != nil {
		return cov, fmt.Errorf("failed to parse coverage file %s: %w", path, err)
	}
	if cov.Boxes == nil {
		cov.Boxes = map[string]CoverageBox{}
	}

	return cov, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
