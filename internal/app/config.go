package app

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig defines how the presence backend should run.
type ServerConfig struct {
	Addr     string
	WSPath   string
	DBPath   string
	RedisURL string // when set, session validation goes through redis
	TokenTTL time.Duration
	Env      string
}

// LoadServerConfig reads configuration from the environment, pulling in a
// .env file first when one is present.
func LoadServerConfig() ServerConfig {
	_ = godotenv.Load()

	ttlHours, _ := strconv.Atoi(getEnv("SKILLHUB_TOKEN_TTL_HOURS", "24"))
	if ttlHours <= 0 {
		ttlHours = 24
	}

	return ServerConfig{
		Addr:     getEnv("SKILLHUB_ADDR", ":8080"),
		WSPath:   NormalizeWSPath(getEnv("SKILLHUB_WS_PATH", "/ws")),
		DBPath:   getEnv("SKILLHUB_DB_PATH", DefaultDBPath()),
		RedisURL: os.Getenv("SKILLHUB_REDIS_URL"),
		TokenTTL: time.Duration(ttlHours) * time.Hour,
		Env:      getEnv("SKILLHUB_ENV", "development"),
	}
}

// IsDevelopment reports whether the server runs in development mode.
func (c ServerConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("SKILLHUB_DATA_DIR"); env != "" {
		return filepath.Join(env, "skillhub.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "skillhub", "skillhub.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Skillhub", "skillhub.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Skillhub", "skillhub.db")
		}
		return filepath.Join(home, ".local", "share", "skillhub", "skillhub.db")
	}
	return filepath.Join(".", ".skillhub", "skillhub.db")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
