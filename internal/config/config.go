package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModePoll  = "poll"
	ModeQueue = "queue"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	RedisAddr            string
	QueueMode            string
	QueueNamespace       string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	PollInterval  time.Duration
	PollBatchSize int

	BridgeInterval  time.Duration
	BridgeBatchSize int
	EnqueueLock     time.Duration

	ReceiveBatchSize   int
	ReceiveWaitSeconds int
	VisibilitySeconds  int

	DefaultMaxAttempts int
}

func (c Config) QueueModeEnabled() bool {
	return strings.EqualFold(c.QueueMode, ModeQueue)
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		RedisAddr:            getenv("REDIS_ADDR", "localhost:6379"),
		QueueMode:            getenv("QUEUE_MODE", ModePoll),
		QueueNamespace:       getenv("QUEUE_NAMESPACE", "taskforge"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",

		PollInterval:  time.Duration(getenvInt("POLL_INTERVAL_MS", 5000)) * time.Millisecond,
		PollBatchSize: getenvInt("POLL_BATCH_SIZE", 5),

		BridgeInterval:  time.Duration(getenvInt("BRIDGE_INTERVAL_MS", 1000)) * time.Millisecond,
		BridgeBatchSize: getenvInt("BRIDGE_BATCH_SIZE", 50),
		EnqueueLock:     time.Duration(getenvInt("ENQUEUE_LOCK_SECONDS", 30)) * time.Second,

		ReceiveBatchSize:   getenvInt("RECEIVE_BATCH_SIZE", 5),
		ReceiveWaitSeconds: getenvInt("RECEIVE_WAIT_SECONDS", 20),
		VisibilitySeconds:  getenvInt("VISIBILITY_TIMEOUT_SECONDS", 30),

		DefaultMaxAttempts: getenvInt("DEFAULT_MAX_ATTEMPTS", 3),
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	cfg.JWTSecret = mustGetenv("JWT_SECRET")
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}
