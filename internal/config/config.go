package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	NATS         NATSConfig         `yaml:"nats"`
	MinIO        MinIOConfig        `yaml:"minio"`
	Training     TrainingConfig     `yaml:"training"`
	Distribution DistributionConfig `yaml:"distribution"`
	Edge         EdgeConfig         `yaml:"edge"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Scoring      ScoringConfig      `yaml:"scoring"`
	Logging      LoggingConfig      `yaml:"logging"`
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

type TrainingConfig struct {
	MinNormalSnapshots  int     `yaml:"min_normal_snapshots"`
	MaxEpochs           int     `yaml:"max_epochs"`
	Patience            int     `yaml:"patience"`
	ValidationSplit     float64 `yaml:"validation_split"`
	LearningRate        float64 `yaml:"learning_rate"`
	LatentDim           int     `yaml:"latent_dim"`
	InputSize           int     `yaml:"input_size"`
	ThresholdPercentile float64 `yaml:"threshold_percentile"`
	WorkerCount         int     `yaml:"worker_count"`
	SanityBound         float64 `yaml:"sanity_bound"`
}

type DistributionConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	ChunkSize      int           `yaml:"chunk_size"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
}

type EdgeConfig struct {
	ID            string        `yaml:"id"`
	Cameras       []string      `yaml:"cameras"`
	FramesDir     string        `yaml:"frames_dir"`
	PreBuffer     time.Duration `yaml:"pre_buffer"`
	PostBuffer    time.Duration `yaml:"post_buffer"`
	FrameInterval time.Duration `yaml:"frame_interval"`
	HealthSync    time.Duration `yaml:"health_sync"`
}

type AnalysisConfig struct {
	ModelsDir            string        `yaml:"models_dir"`
	DetectionThreshold   float64       `yaml:"detection_threshold"`
	Timeout              time.Duration `yaml:"timeout"`
	WorkerCount          int           `yaml:"worker_count"`
	GridSize             int           `yaml:"grid_size"`
	BaselineRebuildDelta float64       `yaml:"baseline_rebuild_delta"`
	CountDeviationFactor float64       `yaml:"count_deviation_factor"`
	CorrelationWindow    time.Duration `yaml:"correlation_window"`
	MinClipCoverage      time.Duration `yaml:"min_clip_coverage"`
	QueueHighWater       int           `yaml:"queue_high_water"`
}

type ScoringConfig struct {
	FeedbackWindow    time.Duration `yaml:"feedback_window"`
	FalsePositiveDamp int           `yaml:"false_positive_damp"`
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

// Default returns a config with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
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
	if cfg.Training.MinNormalSnapshots == 0 {
		cfg.Training.MinNormalSnapshots = 50
	}
	if cfg.Training.MaxEpochs == 0 {
		cfg.Training.MaxEpochs = 200
	}
	if cfg.Training.Patience == 0 {
		cfg.Training.Patience = 10
	}
	if cfg.Training.ValidationSplit == 0 {
		cfg.Training.ValidationSplit = 0.2
	}
	if cfg.Training.LearningRate == 0 {
		cfg.Training.LearningRate = 0.01
	}
	if cfg.Training.LatentDim == 0 {
		cfg.Training.LatentDim = 16
	}
	if cfg.Training.InputSize == 0 {
		cfg.Training.InputSize = 32
	}
	if cfg.Training.ThresholdPercentile == 0 {
		cfg.Training.ThresholdPercentile = 0.95
	}
	if cfg.Training.WorkerCount == 0 {
		cfg.Training.WorkerCount = 2
	}
	if cfg.Training.SanityBound == 0 {
		cfg.Training.SanityBound = 0.5
	}
	if cfg.Distribution.MaxAttempts == 0 {
		cfg.Distribution.MaxAttempts = 5
	}
	if cfg.Distribution.InitialBackoff == 0 {
		cfg.Distribution.InitialBackoff = time.Second
	}
	if cfg.Distribution.MaxBackoff == 0 {
		cfg.Distribution.MaxBackoff = 30 * time.Second
	}
	if cfg.Distribution.ChunkSize == 0 {
		cfg.Distribution.ChunkSize = 512 * 1024
	}
	if cfg.Distribution.AckTimeout == 0 {
		cfg.Distribution.AckTimeout = 30 * time.Second
	}
	if cfg.Edge.PreBuffer == 0 {
		cfg.Edge.PreBuffer = 5 * time.Second
	}
	if cfg.Edge.PostBuffer == 0 {
		cfg.Edge.PostBuffer = 5 * time.Second
	}
	if cfg.Edge.FrameInterval == 0 {
		cfg.Edge.FrameInterval = 200 * time.Millisecond
	}
	if cfg.Edge.HealthSync == 0 {
		cfg.Edge.HealthSync = 30 * time.Second
	}
	if cfg.Analysis.DetectionThreshold == 0 {
		cfg.Analysis.DetectionThreshold = 0.5
	}
	if cfg.Analysis.Timeout == 0 {
		cfg.Analysis.Timeout = 5 * time.Second
	}
	if cfg.Analysis.WorkerCount == 0 {
		cfg.Analysis.WorkerCount = 4
	}
	if cfg.Analysis.GridSize == 0 {
		cfg.Analysis.GridSize = 4
	}
	if cfg.Analysis.BaselineRebuildDelta == 0 {
		cfg.Analysis.BaselineRebuildDelta = 0.2
	}
	if cfg.Analysis.CountDeviationFactor == 0 {
		cfg.Analysis.CountDeviationFactor = 2.0
	}
	if cfg.Analysis.CorrelationWindow == 0 {
		cfg.Analysis.CorrelationWindow = 5 * time.Minute
	}
	if cfg.Analysis.MinClipCoverage == 0 {
		cfg.Analysis.MinClipCoverage = 10 * time.Second
	}
	if cfg.Analysis.QueueHighWater == 0 {
		cfg.Analysis.QueueHighWater = 10000
	}
	if cfg.Scoring.FeedbackWindow == 0 {
		cfg.Scoring.FeedbackWindow = 30 * 24 * time.Hour
	}
	if cfg.Scoring.FalsePositiveDamp == 0 {
		cfg.Scoring.FalsePositiveDamp = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SENTINEL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("SENTINEL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SENTINEL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SENTINEL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SENTINEL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SENTINEL_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("SENTINEL_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SENTINEL_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SENTINEL_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SENTINEL_MODELS_DIR"); v != "" {
		cfg.Analysis.ModelsDir = v
	}
	if v := os.Getenv("SENTINEL_EDGE_ID"); v != "" {
		cfg.Edge.ID = v
	}
	if v := os.Getenv("SENTINEL_EDGE_FRAMES_DIR"); v != "" {
		cfg.Edge.FramesDir = v
	}
	if v := os.Getenv("SENTINEL_ANALYSIS_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.WorkerCount = n
		}
	}
	if v := os.Getenv("SENTINEL_TRAINING_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Training.WorkerCount = n
		}
	}
}
