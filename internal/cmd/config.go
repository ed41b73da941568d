package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mauri870/aofkv/internal/backup"
	"github.com/spf13/pflag"
)

const logFileName = "wal.aof"

// Backup backends.
const (
	backendNone = "none"
	backendS3   = "s3"
	backendBolt = "bolt"
)

// Config is the process configuration. Every flag falls back to an
// environment variable, which may come from a .env file.
type Config struct {
	HTTPAddr    string
	RESPAddr    string
	IdleTimeout time.Duration

	DataDir string
	Fsync   bool

	Backup         string
	Bucket         string
	ObjectKey      string
	Region         string
	S3Endpoint     string
	S3PathStyle    bool
	BoltPath       string
	BackupInterval time.Duration
	ShutdownGrace  time.Duration
	Restore        bool

	AuthTokens []string

	LogLevel string
	Dev      bool
}

// LogPath is the location of the append-only log.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, logFileName)
}

func (c *Config) bindFlags(fs *pflag.FlagSet) {
	dev := envBool("DEV", false)

	fs.StringVar(&c.HTTPAddr, "http-addr", envString("AOFKV_HTTP_ADDR", "0.0.0.0:8080"), "HTTP server address, empty to disable")
	fs.StringVar(&c.RESPAddr, "resp-addr", envString("AOFKV_RESP_ADDR", "localhost:6379"), "RESP server address, empty to disable")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", envDuration("AOFKV_IDLE_TIMEOUT", 5*time.Minute), "close idle RESP connections after this long")

	fs.StringVar(&c.DataDir, "data-dir", envString("AOFKV_DATA_DIR", ".data"), "directory holding the append-only log")
	fs.BoolVar(&c.Fsync, "fsync", envBool("AOFKV_FSYNC", true), "fsync the log after every append")

	fs.StringVar(&c.Backup, "backup", envString("AOFKV_BACKUP", backendNone), "remote backup backend: none, s3 or bolt")
	fs.StringVar(&c.Bucket, "bucket", envString("AOFKV_BUCKET", "aofkv-backup"), "backup bucket name")
	fs.StringVar(&c.ObjectKey, "object-key", envString("AOFKV_OBJECT_KEY", logFileName), "backup object key")
	fs.StringVar(&c.Region, "region", envString("AWS_REGION", "us-east-1"), "region the bucket is created in")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", envString("AWS_ENDPOINT_URL", ""), "custom S3 endpoint, e.g. for MinIO")
	fs.BoolVar(&c.S3PathStyle, "s3-path-style", envBool("AOFKV_S3_PATH_STYLE", false), "use path-style S3 addressing")
	fs.StringVar(&c.BoltPath, "bolt-path", envString("AOFKV_BOLT_PATH", ""), "bbolt file used by the bolt backend")
	fs.DurationVar(&c.BackupInterval, "backup-interval", envDuration("AOFKV_BACKUP_INTERVAL", backup.DefaultInterval), "interval between scheduled uploads")
	fs.DurationVar(&c.ShutdownGrace, "shutdown-grace", envDuration("AOFKV_SHUTDOWN_GRACE", 0), "bound on the final upload at shutdown, 0 waits forever")
	fs.BoolVar(&c.Restore, "restore", envBool("AOFKV_RESTORE", !dev), "download the remote snapshot on startup")

	fs.StringSliceVar(&c.AuthTokens, "auth-token", envList("AOFKV_AUTH_TOKENS"), "token=namespace pair, repeatable; enables auth")

	fs.StringVar(&c.LogLevel, "log-level", envString("AOFKV_LOG_LEVEL", "info"), "log level")
	fs.BoolVar(&c.Dev, "dev", dev, "development mode: human readable logs")
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" && c.RESPAddr == "" {
		return fmt.Errorf("at least one of --http-addr and --resp-addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("--data-dir is required")
	}
	if c.BackupInterval <= 0 {
		return fmt.Errorf("--backup-interval must be positive")
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("--shutdown-grace must not be negative")
	}

	switch c.Backup {
	case backendNone:
	case backendS3:
		if c.Bucket == "" || c.ObjectKey == "" {
			return fmt.Errorf("s3 backup requires --bucket and --object-key")
		}
	case backendBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("bolt backup requires --bolt-path")
		}
		if c.Bucket == "" || c.ObjectKey == "" {
			return fmt.Errorf("bolt backup requires --bucket and --object-key")
		}
	default:
		return fmt.Errorf("unknown backup backend %q", c.Backup)
	}
	return nil
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(name)); err == nil {
		return b
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(name)); err == nil {
		return d
	}
	return def
}

func envList(name string) []string {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
