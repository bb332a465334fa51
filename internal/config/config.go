package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Classifier backends.
const (
	BackendRandom = "random"
	BackendGRPC   = "grpc"
)

// Analysis holds the limits the analysis pipeline is built with.
type Analysis struct {
	MaxUploadBytes     int64
	AcceptedMediaTypes []string
	MaxDimension       int
	MaxPixels          int
	DecodeTimeout      time.Duration
	ConfidenceMin      float64
	ConfidenceMax      float64
}

// Classifier selects and tunes the classification strategy.
type Classifier struct {
	Backend string
	Addr    string
	Timeout time.Duration
	Seed    uint64
}

type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	JWTSecret       string
	JWTAudience     string
	LogLevel        string
	LogFile         string

	Analysis   Analysis
	Classifier Classifier
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultAnalysis returns the stock pipeline limits.
func DefaultAnalysis() Analysis {
	return Analysis{
		MaxUploadBytes:     5 * 1024 * 1024,
		AcceptedMediaTypes: []string{"image/jpeg", "image/png"},
		MaxDimension:       400,
		MaxPixels:          50_000_000,
		DecodeTimeout:      5 * time.Second,
		ConfidenceMin:      0.70,
		ConfidenceMax:      1.00,
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary key lookup, so tests can
// supply values without touching the environment.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	p := parser{lookup: lookup}
	defaults := DefaultAnalysis()

	cfg := &Config{
		Host:            p.str("HOST", "0.0.0.0"),
		Port:            p.integer("PORT", 8000),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		AllowedOrigins:  p.list("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:3001"}),
		JWTSecret:       strings.TrimSpace(p.str("JWT_SECRET", "")),
		JWTAudience:     strings.TrimSpace(p.str("JWT_AUDIENCE", "")),
		LogLevel:        p.str("LOG_LEVEL", "info"),
		LogFile:         p.str("LOG_FILE", ""),
		Analysis: Analysis{
			MaxUploadBytes:     int64(p.integer("MAX_UPLOAD_BYTES", int(defaults.MaxUploadBytes))),
			AcceptedMediaTypes: p.list("ACCEPTED_MEDIA_TYPES", defaults.AcceptedMediaTypes),
			MaxDimension:       p.integer("MAX_IMAGE_DIMENSION", defaults.MaxDimension),
			MaxPixels:          p.integer("MAX_IMAGE_PIXELS", defaults.MaxPixels),
			DecodeTimeout:      p.duration("DECODE_TIMEOUT", defaults.DecodeTimeout),
			ConfidenceMin:      p.float("CONFIDENCE_MIN", defaults.ConfidenceMin),
			ConfidenceMax:      p.float("CONFIDENCE_MAX", defaults.ConfidenceMax),
		},
		Classifier: Classifier{
			Backend: strings.ToLower(p.str("CLASSIFIER_BACKEND", BackendRandom)),
			Addr:    p.str("CLASSIFIER_ADDR", ""),
			Timeout: p.duration("CLASSIFIER_TIMEOUT", 3*time.Second),
			Seed:    uint64(p.integer("CLASSIFIER_SEED", 0)),
		},
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if err := c.Analysis.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Classifier.Backend {
	case BackendRandom:
	case BackendGRPC:
		if c.Classifier.Addr == "" {
			errs = append(errs, errors.New("CLASSIFIER_ADDR is required for the grpc backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CLASSIFIER_BACKEND %q", c.Classifier.Backend))
	}
	return errors.Join(errs...)
}

// Validate checks that the analysis limits are usable.
func (a Analysis) Validate() error {
	var errs []error
	if a.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if len(a.AcceptedMediaTypes) == 0 {
		errs = append(errs, errors.New("ACCEPTED_MEDIA_TYPES must not be empty"))
	}
	if a.MaxDimension <= 0 {
		errs = append(errs, errors.New("MAX_IMAGE_DIMENSION must be positive"))
	}
	if a.MaxPixels <= 0 {
		errs = append(errs, errors.New("MAX_IMAGE_PIXELS must be positive"))
	}
	if a.DecodeTimeout <= 0 {
		errs = append(errs, errors.New("DECODE_TIMEOUT must be positive"))
	}
	if a.ConfidenceMin < 0 || a.ConfidenceMax > 1 || a.ConfidenceMin > a.ConfidenceMax {
		errs = append(errs, fmt.Errorf("confidence bounds [%g, %g] must satisfy 0 <= min <= max <= 1", a.ConfidenceMin, a.ConfidenceMax))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) str(key, fallback string) string {
	if value, ok := p.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (p *parser) integer(key string, fallback int) int {
	value, ok := p.lookup(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	value, ok := p.lookup(key)
	if !ok || value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	value, ok := p.lookup(key)
	if !ok || value == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (p *parser) list(key string, fallback []string) []string {
	value, ok := p.lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
