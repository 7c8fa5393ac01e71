// Package config provides configuration management for crimewatch.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort     = 8000
	DefaultBindAddr = "0.0.0.0"
	DefaultLogLevel = "info"
	DefaultDataDir  = ".crimewatch"

	// Environment variable names
	EnvPort           = "CRIMEWATCH_PORT"
	EnvBindAddr       = "CRIMEWATCH_BIND_ADDR"
	EnvLogLevel       = "CRIMEWATCH_LOG_LEVEL"
	EnvDataDir        = "CRIMEWATCH_DATA_DIR"
	EnvWeightsPath    = "CRIMEWATCH_WEIGHTS_PATH"
	EnvONNXModelPath  = "CRIMEWATCH_ONNX_MODEL_PATH"
	EnvONNXRuntimeLib = "CRIMEWATCH_ONNXRUNTIME_LIB"
	EnvFrames         = "CRIMEWATCH_FRAMES"
	EnvResolution     = "CRIMEWATCH_RESOLUTION"
	EnvSampling       = "CRIMEWATCH_SAMPLING"
	EnvSeed           = "CRIMEWATCH_SEED"
	EnvMaskDegraded   = "CRIMEWATCH_MASK_DEGRADED"
	EnvLabelsFile     = "CRIMEWATCH_LABELS_FILE"
	EnvFFmpegPath     = "CRIMEWATCH_FFMPEG_PATH"
	EnvFFprobePath    = "CRIMEWATCH_FFPROBE_PATH"
	EnvMaxUploadMB    = "CRIMEWATCH_MAX_UPLOAD_MB"
	EnvFetchTimeout   = "CRIMEWATCH_FETCH_TIMEOUT_S"
	EnvCORSOrigins    = "CRIMEWATCH_CORS_ORIGINS"

	// Database filename
	DBFilename = "crimewatch.db"

	// Weights filename under <data_dir>/models
	WeightsFilename = "crime_model.c3dw"

	// Pipeline defaults
	DefaultFrames          = 16
	DefaultResolution      = 112
	DefaultSampling        = "first"
	DefaultMaxUploadMB     = 512
	DefaultFetchTimeoutS   = 120
	DefaultDoctorTimeoutS  = 10
	DefaultRunnerIntervalS = 2
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	BindAddr() string
	LogLevel() string
	DataDir() string
	DBPath() string
	CacheDir() string
	WeightsPath() string
	ONNXModelPath() string
	ONNXRuntimeLib() string
	Frames() int
	Resolution() int
	Sampling() string
	Seed() (uint64, bool)
	MaskDegraded() bool
	LabelsFile() string
	FFmpegPath() string
	FFprobePath() string
	MaxUploadBytes() int64
	FetchTimeout() time.Duration
	DoctorTimeout() time.Duration
	RunnerInterval() time.Duration
	CORSOrigins() []string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	bindAddr string
	logLevel string
	dataDir  string

	weightsPath    string
	onnxModelPath  string
	onnxRuntimeLib string

	frames     int
	resolution int
	sampling   string
	seed       uint64
	hasSeed    bool

	maskDegraded bool
	labelsFile   string

	ffmpegPath  string
	ffprobePath string

	maxUploadMB   int
	fetchTimeoutS int
	corsOrigins   []string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		bindAddr:      DefaultBindAddr,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		frames:        DefaultFrames,
		resolution:    DefaultResolution,
		sampling:      DefaultSampling,
		maskDegraded:  true,
		maxUploadMB:   DefaultMaxUploadMB,
		fetchTimeoutS: DefaultFetchTimeoutS,
		corsOrigins:   []string{"*"},
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ba := os.Getenv(EnvBindAddr); ba != "" {
		cfg.bindAddr = ba
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.weightsPath = os.Getenv(EnvWeightsPath)
	cfg.onnxModelPath = os.Getenv(EnvONNXModelPath)
	cfg.onnxRuntimeLib = os.Getenv(EnvONNXRuntimeLib)
	cfg.labelsFile = os.Getenv(EnvLabelsFile)
	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)
	cfg.ffprobePath = os.Getenv(EnvFFprobePath)

	var err error
	if cfg.frames, err = positiveInt(EnvFrames, cfg.frames, 1024); err != nil {
		return nil, err
	}
	if cfg.resolution, err = positiveInt(EnvResolution, cfg.resolution, 4096); err != nil {
		return nil, err
	}
	if cfg.maxUploadMB, err = positiveInt(EnvMaxUploadMB, cfg.maxUploadMB, 1<<16); err != nil {
		return nil, err
	}
	if cfg.fetchTimeoutS, err = positiveInt(EnvFetchTimeout, cfg.fetchTimeoutS, 3600); err != nil {
		return nil, err
	}

	if s := os.Getenv(EnvSampling); s != "" {
		s = strings.ToLower(s)
		if s != "first" && s != "uniform" {
			return nil, fmt.Errorf("invalid %s: must be first or uniform", EnvSampling)
		}
		cfg.sampling = s
	}

	if s := os.Getenv(EnvSeed); s != "" {
		seed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvSeed, err)
		}
		cfg.seed, cfg.hasSeed = seed, true
	}

	if s := os.Getenv(EnvMaskDegraded); s != "" {
		mask, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaskDegraded, err)
		}
		cfg.maskDegraded = mask
	}

	if s := os.Getenv(EnvCORSOrigins); s != "" {
		var origins []string
		for _, o := range strings.Split(s, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.corsOrigins = origins
	}

	return cfg, nil
}

func positiveInt(name string, def, max int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 1 || v > max {
		return 0, fmt.Errorf("invalid %s: must be between 1 and %d", name, max)
	}
	return v, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// BindAddr returns the interface the HTTP server listens on
func (c *EnvConfig) BindAddr() string {
	return c.bindAddr
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// CacheDir returns the scratch directory for uploads and downloads
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

// WeightsPath returns the C3D weights file. The file is optional.
func (c *EnvConfig) WeightsPath() string {
	if c.weightsPath != "" {
		return c.weightsPath
	}
	return filepath.Join(c.dataDir, "models", WeightsFilename)
}

func (c *EnvConfig) ONNXModelPath() string {
	return c.onnxModelPath
}

func (c *EnvConfig) ONNXRuntimeLib() string {
	return c.onnxRuntimeLib
}

// Frames returns the clip length N
func (c *EnvConfig) Frames() int {
	return c.frames
}

// Resolution returns the square frame size of sampled clips
func (c *EnvConfig) Resolution() int {
	return c.resolution
}

func (c *EnvConfig) Sampling() string {
	return c.sampling
}

// Seed returns the prediction seed and whether one was configured
func (c *EnvConfig) Seed() (uint64, bool) {
	return c.seed, c.hasSeed
}

func (c *EnvConfig) MaskDegraded() bool {
	return c.maskDegraded
}

func (c *EnvConfig) LabelsFile() string {
	return c.labelsFile
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) MaxUploadBytes() int64 {
	return int64(c.maxUploadMB) << 20
}

func (c *EnvConfig) FetchTimeout() time.Duration {
	return time.Duration(c.fetchTimeoutS) * time.Second
}

func (c *EnvConfig) DoctorTimeout() time.Duration {
	return time.Duration(DefaultDoctorTimeoutS) * time.Second
}

func (c *EnvConfig) RunnerInterval() time.Duration {
	return time.Duration(DefaultRunnerIntervalS) * time.Second
}

func (c *EnvConfig) CORSOrigins() []string {
	return c.corsOrigins
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
