package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	// Load .env files before any config is read.
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	JWT      JWTConfig      `json:"jwt"`
	Recorder RecorderConfig `json:"recorder"`
	Upload   UploadConfig   `json:"upload"`
	Security SecurityConfig `json:"security"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type DatabaseConfig struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type JWTConfig struct {
	SecretKey  string        `json:"secret_key"`
	Expiration time.Duration `json:"expiration"`
	// Operator credentials checked at login. The password is stored as a
	// bcrypt hash, never in the clear.
	OperatorUser         string `json:"operator_user"`
	OperatorPasswordHash string `json:"operator_password_hash"`
}

type RecorderConfig struct {
	// Driver selects the frame source implementation: "ffmpeg" (pull) or
	// "rtmp" (push intake).
	Driver        string `json:"driver"`
	RecordingsDir string `json:"recordings_dir"`
	FFmpegPath    string `json:"ffmpeg_path"`
	FFprobePath   string `json:"ffprobe_path"`

	ConnectAttempts int           `json:"connect_attempts"`
	ConnectBackoff  time.Duration `json:"connect_backoff"`
	MaxReconnects   int           `json:"max_reconnects"`
	Staleness       time.Duration `json:"staleness"`
	StopGrace       time.Duration `json:"stop_grace"`
	FallbackFPS     float64       `json:"fallback_fps"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	// SessionHistory caps how many finished sessions stay queryable.
	SessionHistory int `json:"session_history"`
}

type UploadConfig struct {
	// Command is the external archival executable, invoked as
	// `command <localFile> <destination>`.
	Command     string        `json:"command"`
	Destination string        `json:"destination"`
	Timeout     time.Duration `json:"timeout"`
}

type SecurityConfig struct {
	CORSOrigins []string      `json:"cors_origins"`
	RateLimit   int           `json:"rate_limit"`
	RateWindow  time.Duration `json:"rate_window"`
}

// Load reads configuration from environment variables and the .env file.
func Load() (*Config, error) {
	c := &Config{}

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	c.Server = ServerConfig{
		Port:         port,
		Host:         getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 30*time.Second),
	}

	c.Database = DatabaseConfig{
		URI:  getEnv("DB_URI", "mongodb://localhost:27017"),
		Name: getEnv("DB_NAME", "streamvault"),
	}

	c.JWT = JWTConfig{
		SecretKey:            getEnv("JWT_SECRET", ""),
		Expiration:           getDurationEnv("JWT_EXPIRATION", 24*time.Hour),
		OperatorUser:         getEnv("OPERATOR_USER", "operator"),
		OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
	}

	c.Recorder = RecorderConfig{
		Driver:          getEnv("RECORDER_DRIVER", "ffmpeg"),
		RecordingsDir:   getEnv("RECORDINGS_DIR", "recordings"),
		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:     getEnv("FFPROBE_PATH", "ffprobe"),
		ConnectAttempts: getIntEnv("CONNECT_ATTEMPTS", 3),
		ConnectBackoff:  getDurationEnv("CONNECT_BACKOFF", 2*time.Second),
		MaxReconnects:   getIntEnv("MAX_RECONNECTS", 5),
		Staleness:       getDurationEnv("STALENESS_THRESHOLD", 5*time.Second),
		StopGrace:       getDurationEnv("STOP_GRACE", 10*time.Second),
		FallbackFPS:     getFloatEnv("FALLBACK_FPS", 25),
		ReadTimeout:     getDurationEnv("FRAME_READ_TIMEOUT", 200*time.Millisecond),
		SessionHistory:  getIntEnv("SESSION_HISTORY", 100),
	}

	c.Upload = UploadConfig{
		Command:     getEnv("ARCHIVE_COMMAND", "iput"),
		Destination: getEnv("ARCHIVE_DESTINATION", ""),
		Timeout:     getDurationEnv("UPLOAD_TIMEOUT", 300*time.Second),
	}

	corsOrigins := []string{"*"}
	if raw := getEnv("CORS_ORIGINS", "*"); raw != "*" {
		corsOrigins = corsOrigins[:0]
		for _, origin := range strings.Split(raw, ",") {
			corsOrigins = append(corsOrigins, strings.TrimSpace(origin))
		}
	}
	c.Security = SecurityConfig{
		CORSOrigins: corsOrigins,
		RateLimit:   getIntEnv("RATE_LIMIT", 100),
		RateWindow:  getDurationEnv("RATE_WINDOW", time.Minute),
	}

	return c, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.JWT.OperatorPasswordHash == "" {
		return fmt.Errorf("OPERATOR_PASSWORD_HASH is required")
	}
	if c.Recorder.RecordingsDir == "" {
		return fmt.Errorf("recordings directory is required")
	}
	if c.Recorder.Driver != "ffmpeg" && c.Recorder.Driver != "rtmp" {
		return fmt.Errorf("unknown recorder driver: %q", c.Recorder.Driver)
	}
	if c.Upload.Command == "" {
		return fmt.Errorf("archive command is required")
	}
	if c.Upload.Destination == "" {
		return fmt.Errorf("archive destination is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
