package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	driverName     = "mysql"
	configFilePath = "config/config.yaml"
	envFilePath    = ".env"
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// QRConfig: QRチェックインのトークン有効期限
type QRConfig struct {
	DefaultValidFor time.Duration `yaml:"default_valid_for"`
	MaxValidFor     time.Duration `yaml:"max_valid_for"`
}

type BulkConfig struct {
	Workers int `yaml:"workers"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type DocumentsConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type Config struct {
	Version     string          `yaml:"version"`
	Mode        string          `yaml:"mode"`
	Timezone    string          `yaml:"timezone"`
	Server      ServerConfig    `yaml:"server"`
	DB          DatabaseConfig  `yaml:"database"`
	Certificate Certs           `yaml:"certificate"`
	Auth        AuthConfig      `yaml:"auth"`
	QR          QRConfig        `yaml:"qr"`
	Bulk        BulkConfig      `yaml:"bulk"`
	Redis       RedisConfig     `yaml:"redis"`
	Documents   DocumentsConfig `yaml:"documents"`
}

// LoadConfig: YAMLを読み込み、.env / 環境変数で秘密情報を上書きする
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = configFilePath
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}

	// .env は任意
	if err := godotenv.Load(envFilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".env の読み込み失敗: %w", err)
	}
	applyEnv(&cfg)
	cfg.applyDefaults()
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("APP_MODE"); v != "" {
		cfg.Mode = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Jakarta"
	}
	if c.QR.DefaultValidFor <= 0 {
		c.QR.DefaultValidFor = 2 * time.Minute
	}
	if c.QR.MaxValidFor <= 0 {
		c.QR.MaxValidFor = 30 * time.Minute
	}
	if c.Bulk.Workers <= 0 {
		c.Bulk.Workers = 4
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 30 * time.Second
	}
	if c.Documents.Dir == "" {
		c.Documents.Dir = "data/documents"
	}
	if c.Documents.MaxBytes <= 0 {
		c.Documents.MaxBytes = 5 << 20
	}
}

// Location: 学校のタイムゾーン（日付判定はすべてこれ基準）
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q の読み込み失敗: %w", c.Timezone, err)
	}
	return loc, nil
}

func Connect(c DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.DBName)

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("接続準備に失敗: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}

	// 接続プール（合算がMySQLの max_connections を超えないよう配分する）
	db.SetMaxOpenConns(80)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}
