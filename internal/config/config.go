// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек сервиса.
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RabbitMQURL             string `yaml:"rabbitmq_url"`
	RabbitMQMaxRetries      int    `yaml:"rabbitmq_max_retries" env-default:"5"`

	RabbitMQRetryDelay time.Duration `yaml:"rabbitmq_retry_delay" env-default:"3s"`

	RedisConnection `yaml:"redis_connection"`
	HTTPServer      `yaml:"http_server"`
	WireGuard       `yaml:"wireguard"`
	WGEasy          `yaml:"wgeasy"`
	Access          `yaml:"access"`
	Payments        `yaml:"payments"`
	AdminToken      `yaml:"admin_token"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// WireGuard — настройки пула адресов и локального интерфейса (стратегия local).
type WireGuard struct {
	// Backend выбирает стратегию управления пирами: local или wgeasy.
	Backend         string        `yaml:"backend" env-default:"local"`
	Interface       string        `yaml:"interface" env-default:"wg0"`
	ConfigPath      string        `yaml:"config_path" env-default:"/etc/wireguard/wg0.conf"`
	ClientNetwork   string        `yaml:"client_network" env-default:"10.10.10.0/24"`
	ServerPublicKey string        `yaml:"server_public_key"`
	ServerEndpoint  string        `yaml:"server_endpoint"`
	ClientDNS       string        `yaml:"client_dns" env-default:"8.8.8.8, 1.1.1.1"`
	Keepalive       int           `yaml:"keepalive" env-default:"25"`
	CommandTimeout  time.Duration `yaml:"command_timeout" env-default:"10s"`
}

// WGEasy — настройки внешнего управляющего сервиса (стратегия wgeasy).
type WGEasy struct {
	URL          string        `yaml:"url" env-default:"http://localhost:51821"`
	PasswordWG   string        `yaml:"password"`
	TimeoutWG    time.Duration `yaml:"timeout" env-default:"30s"`
	FindRetries  int           `yaml:"find_retries" env-default:"3"`
	FindInterval time.Duration `yaml:"find_interval" env-default:"2s"`
}

// Access — параметры выдачи доступа.
type Access struct {
	TrialTTL         time.Duration `yaml:"trial_ttl" env-default:"10m"`
	SubscriptionDays int           `yaml:"subscription_days" env-default:"30"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env-default:"1m"`
}

// Payments — настройки платёжных систем.
type Payments struct {
	FreekassaShopID     string   `yaml:"freekassa_shop_id"`
	FreekassaSecretKey1 string   `yaml:"freekassa_secret_key1"`
	FreekassaSecretKey2 string   `yaml:"freekassa_secret_key2"`
	FreekassaAllowedIPs []string `yaml:"freekassa_allowed_ips"`
	TrustedProxies      []string `yaml:"trusted_proxies"`
	CryptoCloudToken    string   `yaml:"cryptocloud_token"`
	CryptoCloudShopID   string   `yaml:"cryptocloud_shop_id"`
	WebhookURL          string   `yaml:"webhook_url"`
	PriceRUB            float64  `yaml:"price_rub" env-default:"150"`
	PriceUSD            float64  `yaml:"price_usd" env-default:"2"`
}

// AdminToken структура для проверки админских JWT-токенов.
type AdminToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// MustLoad загружает конфиг по пути из CONFIG_PATH, при ошибке завершает процесс.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}
