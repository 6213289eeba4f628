// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Upload        UploadConfig        `mapstructure:"upload"`
	Billing       BillingConfig       `mapstructure:"billing"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ChatConfig 配置对话相关参数。
type ChatConfig struct {
	// PageLimit 是消息分页的默认页大小。
	PageLimit int `mapstructure:"page_limit"`
	// ContextWindow 是每次提问时取用的最近历史消息条数。
	ContextWindow int `mapstructure:"context_window"`
	// RetrieveTopK 是相似度检索返回的段落数。
	RetrieveTopK int `mapstructure:"retrieve_top_k"`
	// ChunkSize / ChunkOverlap 控制入库管道的文本切块。
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// UploadConfig 配置文件上传行为。
type UploadConfig struct {
	// PresignExpireMinutes 是预签名 URL 的有效期（分钟）。
	PresignExpireMinutes int `mapstructure:"presign_expire_minutes"`
}

// BillingConfig 存储订阅计费相关的配置。
type BillingConfig struct {
	StripeSecretKey string       `mapstructure:"stripe_secret_key"`
	WebhookSecret   string       `mapstructure:"webhook_secret"`
	BillingURL      string       `mapstructure:"billing_url"`
	Plans           []PlanConfig `mapstructure:"plans"`
}

// PlanConfig 描述一个订阅档位及其配额。
type PlanConfig struct {
	Name string `mapstructure:"name"`
	Slug string `mapstructure:"slug"`
	// Quota 是该档位允许的文件总数。
	Quota int `mapstructure:"quota"`
	// PagesPerPDF 是单个 PDF 的页数上限，超出则入库失败。
	PagesPerPDF int `mapstructure:"pages_per_pdf"`
	// MaxFileSize 是单个文件的字节数上限。
	MaxFileSize int64 `mapstructure:"max_file_size"`
	// StripePriceID 是该档位对应的 Stripe 价格。免费档位为空。
	StripePriceID string `mapstructure:"stripe_price_id"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults()
}

// applyDefaults 为未配置的对话参数补上默认值。
func applyDefaults() {
	if Conf.Chat.PageLimit <= 0 || Conf.Chat.PageLimit > 100 {
		Conf.Chat.PageLimit = 10
	}
	if Conf.Chat.ContextWindow <= 0 {
		Conf.Chat.ContextWindow = 6
	}
	if Conf.Chat.RetrieveTopK <= 0 {
		Conf.Chat.RetrieveTopK = 4
	}
	if Conf.Chat.ChunkSize <= 0 {
		Conf.Chat.ChunkSize = 1000
	}
	if Conf.Chat.ChunkOverlap < 0 {
		Conf.Chat.ChunkOverlap = 100
	}
	if Conf.Upload.PresignExpireMinutes <= 0 {
		Conf.Upload.PresignExpireMinutes = 15
	}
}

// PlanBySlug 按 slug 查找订阅档位；找不到时返回免费档位。
func PlanBySlug(slug string) PlanConfig {
	var free PlanConfig
	for _, p := range Conf.Billing.Plans {
		if p.Slug == slug {
			return p
		}
		if p.Slug == "free" {
			free = p
		}
	}
	return free
}

// PlanByPriceID 按 Stripe 价格查找订阅档位；找不到时返回免费档位。
func PlanByPriceID(priceID string) PlanConfig {
	if priceID != "" {
		for _, p := range Conf.Billing.Plans {
			if p.StripePriceID == priceID {
				return p
			}
		}
	}
	return PlanBySlug("free")
}
