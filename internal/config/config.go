package config

import (
	"errors"
	"flag"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	Env          string
	LogLevel     string
	StaticDir    string
	MaxMessages  int
	MaxSizeBytes int64
	ReadLimit    int64
	SendBuffer   int
	MsgRate      float64
	MsgBurst     int
}

const mb = 1024 * 1024

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// getrate 允许 0，用来关闭连接级限流。
func getrate(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// Load 读取 .env（可选）与环境变量，未设置或非法的数值回落到默认值。
func Load() Config {
	_ = godotenv.Load()

	port := getenv("APP_PORT", getenv("PORT", "3000"))
	return Config{
		Port:         port,
		Env:          getenv("APP_ENV", "dev"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		StaticDir:    getenv("STATIC_DIR", "./public"),
		MaxMessages:  getint("MAX_MESSAGES", 5),
		MaxSizeBytes: int64(getint("MAX_SIZE_MB", 100)) * mb,
		ReadLimit:    int64(getint("WS_READ_LIMIT_MB", 110)) * mb,
		SendBuffer:   getint("WS_SEND_BUFFER", 256),
		MsgRate:      getrate("WS_MSG_RATE", 20),
		MsgBurst:     getint("WS_MSG_BURST", 40),
	}
}

// ParseFlags 用命令行参数覆盖配置，目前只有 --port。
func ParseFlags(cfg Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("clipshare", flag.ContinueOnError)
	port := fs.String("port", cfg.Port, "listen port")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.Port = *port
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if p, err := strconv.Atoi(cfg.Port); err != nil || p < 0 || p > 65535 {
		return errors.New("port must be a number between 0 and 65535")
	}
	if cfg.MaxMessages <= 0 {
		return errors.New("max messages must be positive")
	}
	if cfg.MaxSizeBytes <= 0 {
		return errors.New("max size must be positive")
	}
	if cfg.ReadLimit <= 0 {
		return errors.New("read limit must be positive")
	}
	if cfg.SendBuffer <= 0 {
		return errors.New("send buffer must be positive")
	}
	if cfg.MsgRate > 0 && cfg.MsgBurst <= 0 {
		return errors.New("message burst must be positive when rate limiting is enabled")
	}
	return nil
}
