package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// GetURL 获取 URL 形式的连接串（golang-migrate 需要）
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 配置（接收 voice 服务的通话完成通知）
type MQTTConfig struct {
	Enabled  bool   // 是否启用 MQTT 桥（默认 false）
	Broker   string // Broker 地址（如 "tcp://localhost:1883"）
	ClientID string // 客户端 ID
	Username string // 用户名（可选）
	Password string // 密码（可选）
	Topic    string // 订阅主题（如 "retrocare/calls/#"）
	QoS      byte
}

// CatalogConfig 预期药品清单（catalog）来源配置
type CatalogConfig struct {
	Mode    string // "db"（patient_medications 表）或 "http"（care-plan 服务）
	BaseURL string // http 模式下 care-plan 服务地址
	Timeout int    // http 超时（秒）
}

// Config retrocare-status 服务配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Catalog  CatalogConfig

	// 状态融合与缓存相关配置
	Reconciler struct {
		// 患者本地时区（day window 按此时区的自然日计算）
		Timezone string
		// 周期性兜底刷新间隔（秒），与 feed 失效机制相互独立
		RefreshInterval int
		// Redis 视图缓存 TTL（秒）
		ViewTTL int
		// feed 重订阅的退避上限（秒）
		ResubscribeMaxBackoff int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "retrocare")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "retrocare-status")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "retrocare/calls/#")
	cfg.MQTT.QoS = 1

	cfg.Catalog.Mode = getEnv("CATALOG_MODE", "db")
	cfg.Catalog.BaseURL = getEnv("CATALOG_BASE_URL", "http://localhost:8080")
	cfg.Catalog.Timeout = parseInt(getEnv("CATALOG_TIMEOUT", "10"), 10)

	cfg.Reconciler.Timezone = getEnv("PATIENT_TIMEZONE", "Local")
	cfg.Reconciler.RefreshInterval = parseInt(getEnv("REFRESH_INTERVAL", "60"), 60)
	cfg.Reconciler.ViewTTL = parseInt(getEnv("VIEW_TTL", "120"), 120)
	cfg.Reconciler.ResubscribeMaxBackoff = parseInt(getEnv("RESUBSCRIBE_MAX_BACKOFF", "30"), 30)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.Catalog.Mode != "db" && cfg.Catalog.Mode != "http" {
		return nil, fmt.Errorf("unsupported catalog mode: %s", cfg.Catalog.Mode)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultValue
}
