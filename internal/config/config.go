package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Rekognition RekognitionConfig `yaml:"rekognition"`
	Matching    MatchingConfig    `yaml:"matching"`
	Repair      RepairConfig      `yaml:"repair"`
	Cache       CacheConfig       `yaml:"cache"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type RekognitionConfig struct {
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	CollectionID string `yaml:"collection_id"`
	// MaxAttempts bounds retries for transient provider failures.
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type MatchingConfig struct {
	// Threshold is the minimum similarity (0-100) a provider match must
	// reach before it is persisted as a matched user.
	Threshold float64 `yaml:"threshold"`
	MaxFaces  int     `yaml:"max_faces"`
	// RepairDelay is how long a scheduled match-repair write waits before
	// being applied, so near-simultaneous detections batch up and the
	// initial photo insert has time to land.
	RepairDelay time.Duration `yaml:"repair_delay"`
	// ScanLimit bounds the recency-ordered fallback scan in match queries.
	ScanLimit int `yaml:"scan_limit"`
}

type RepairConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	// ResumeWindow is how far back a non-terminal reset job is still
	// fresh enough to re-attach to instead of starting a new one.
	ResumeWindow time.Duration `yaml:"resume_window"`
	// Workers is how many repair tasks the worker applies concurrently.
	Workers int `yaml:"workers"`
}

type CacheConfig struct {
	FaceIDTTL time.Duration `yaml:"face_id_ttl"`
	SchemaTTL time.Duration `yaml:"schema_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Rekognition.Region == "" {
		cfg.Rekognition.Region = "us-east-1"
	}
	if cfg.Rekognition.CollectionID == "" {
		cfg.Rekognition.CollectionID = "facematch-faces"
	}
	if cfg.Rekognition.MaxAttempts == 0 {
		cfg.Rekognition.MaxAttempts = 3
	}
	if cfg.Rekognition.RetryDelay == 0 {
		cfg.Rekognition.RetryDelay = time.Second
	}
	if cfg.Matching.Threshold == 0 {
		cfg.Matching.Threshold = 80
	}
	if cfg.Matching.MaxFaces == 0 {
		cfg.Matching.MaxFaces = 100
	}
	if cfg.Matching.RepairDelay == 0 {
		cfg.Matching.RepairDelay = 5 * time.Second
	}
	if cfg.Matching.ScanLimit == 0 {
		cfg.Matching.ScanLimit = 200
	}
	if cfg.Repair.PollInterval == 0 {
		cfg.Repair.PollInterval = 5 * time.Second
	}
	if cfg.Repair.ResumeWindow == 0 {
		cfg.Repair.ResumeWindow = 30 * time.Minute
	}
	if cfg.Repair.Workers == 0 {
		cfg.Repair.Workers = 4
	}
	if cfg.Cache.FaceIDTTL == 0 {
		cfg.Cache.FaceIDTTL = time.Hour
	}
	if cfg.Cache.SchemaTTL == 0 {
		cfg.Cache.SchemaTTL = 10 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FM_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FM_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FM_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FM_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FM_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FM_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FM_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FM_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FM_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FM_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FM_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FM_AWS_REGION"); v != "" {
		cfg.Rekognition.Region = v
	}
	if v := os.Getenv("FM_AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Rekognition.AccessKey = v
	}
	if v := os.Getenv("FM_AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Rekognition.SecretKey = v
	}
	if v := os.Getenv("FM_COLLECTION_ID"); v != "" {
		cfg.Rekognition.CollectionID = v
	}
	if v := os.Getenv("FM_MATCH_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.Threshold = t
		}
	}
}
