package common

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Store    StoreConfig
	OCR      OCRConfig
	Segment  SegmentConfig
	Pipeline PipelineConfig
	Notify   NotifyConfig
}

// StoreConfig holds storage-related configuration
type StoreConfig struct {
	DBPath  string
	WorkDir string
}

// OCRConfig holds OCR and rasterization configuration
type OCRConfig struct {
	Tesseract   string
	Pdftoppm    string
	Pdfinfo     string
	Language    string
	TessdataDir string
	PSM         int // 6 = uniform block of text
	OEM         int // 1 = LSTM only
	Zoom        float64
}

// SegmentConfig holds card grid configuration
type SegmentConfig struct {
	Rows           int
	Cols           int
	SkipLeading    int     // cover pages before the card grid
	SkipTrailing   int     // summary pages after the card grid
	HeaderTrim     float64 // fraction of page height above the grid
	FooterTrim     float64 // fraction of page height below the grid
	BlankThreshold float64 // mean brightness above which a slot is empty
	BinarizeCutoff int     // luminance cutoff for the binarized variant
}

// PipelineConfig holds orchestration configuration
type PipelineConfig struct {
	Workers     int
	CardTimeout time.Duration
	KeepImages  bool
}

// NotifyConfig holds push-notification configuration
type NotifyConfig struct {
	NtfyTopic string
	Timeout   time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DBPath:  getEnv("VOTERSCAN_DB", "voterscan.db"),
			WorkDir: getEnv("VOTERSCAN_WORKDIR", "./work"),
		},
		OCR: OCRConfig{
			Tesseract:   getEnv("TESSERACT_BIN", "tesseract"),
			Pdftoppm:    getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Pdfinfo:     getEnv("PDFINFO_BIN", "pdfinfo"),
			Language:    getEnv("OCR_LANG", "tam+eng"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			PSM:         getEnvAsInt("OCR_PSM", 6),
			OEM:         getEnvAsInt("OCR_OEM", 1),
			Zoom:        getEnvAsFloat("RENDER_ZOOM", 1.5),
		},
		Segment: SegmentConfig{
			Rows:           getEnvAsInt("GRID_ROWS", 10),
			Cols:           getEnvAsInt("GRID_COLS", 3),
			SkipLeading:    getEnvAsInt("SKIP_LEADING_PAGES", 3),
			SkipTrailing:   getEnvAsInt("SKIP_TRAILING_PAGES", 1),
			HeaderTrim:     getEnvAsFloat("HEADER_TRIM", 0.035),
			FooterTrim:     getEnvAsFloat("FOOTER_TRIM", 0.025),
			BlankThreshold: getEnvAsFloat("BLANK_THRESHOLD", 252),
			BinarizeCutoff: getEnvAsInt("BINARIZE_CUTOFF", 140),
		},
		Pipeline: PipelineConfig{
			Workers:     getEnvAsInt("OCR_WORKERS", runtime.NumCPU()),
			CardTimeout: getEnvAsDuration("CARD_TIMEOUT", 60*time.Second),
			KeepImages:  getEnvAsBool("KEEP_IMAGES", false),
		},
		Notify: NotifyConfig{
			NtfyTopic: getEnv("NTFY_TOPIC", ""),
			Timeout:   getEnvAsDuration("NTFY_TIMEOUT", 10*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Store.DBPath == "" {
		return NewAppError("CONFIG_ERROR", "VOTERSCAN_DB is required", ErrInvalidInput)
	}
	if c.Store.WorkDir == "" {
		return NewAppError("CONFIG_ERROR", "VOTERSCAN_WORKDIR is required", ErrInvalidInput)
	}
	if c.Segment.Rows <= 0 || c.Segment.Cols <= 0 {
		return NewAppError("CONFIG_ERROR", "grid shape must be positive", ErrInvalidInput)
	}
	if c.Pipeline.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "OCR_WORKERS must be positive", ErrInvalidInput)
	}
	return nil
}
