package config

import (
	"errors"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// DBConfig - параметры подключения к одному узлу БД
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	// DSN, если задан, используется как есть (для sqlite - путь к файлу или ":memory:")
	DSN string `yaml:"dsn"`
}

type ConfigSchema struct {
	Databases struct {
		Driver   string     `yaml:"driver"` // postgres, mysql, sqlite
		Master   DBConfig   `yaml:"master"`
		Replicas []DBConfig `yaml:"replicas"`
	} `yaml:"db"`
	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Enabled  bool   `yaml:"enabled"`
		// PresenceTTL - через сколько секунд без heartbeat сессии инстанса списываются
		PresenceTTL int `yaml:"presence_ttl"`
	} `yaml:"redis"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
		Enabled  bool   `yaml:"enabled"`
	} `yaml:"rabbitmq"`
	Backend struct {
		Host        string   `yaml:"host"`
		Port        int      `yaml:"port"`
		CorsOrigins []string `yaml:"cors_origins"`
		// AllowTestAuth включает X-User-ID и test_token_N (только для тестовых стендов)
		AllowTestAuth bool `yaml:"allow_test_auth"`
	} `yaml:"backend"`
	Logs struct {
		Level string `yaml:"level"`
	} `yaml:"logs"`
	Messaging struct {
		MaxContentLength int `yaml:"max_content_length"`
		HistoryLimit     int `yaml:"history_limit"`
		MaxHistoryLimit  int `yaml:"max_history_limit"`
		SearchLimit      int `yaml:"search_limit"`
		NotifyQueueSize  int `yaml:"notify_queue_size"`
		NotifyWorkers    int `yaml:"notify_workers"`
	} `yaml:"messaging"`
}

var AppConfig *ConfigSchema

func LoadConfig(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	conf := Default()
	if err = yaml.Unmarshal(data, conf); err != nil {
		return err
	}
	applyEnv(conf)
	if conf.Databases.Driver == "" {
		return errors.New("db.driver is not set")
	}
	AppConfig = conf
	return nil
}

// Default возвращает конфигурацию с дефолтными лимитами (используется и в тестах)
func Default() *ConfigSchema {
	conf := &ConfigSchema{}
	conf.Databases.Driver = "postgres"
	conf.Backend.Port = 8080
	conf.Logs.Level = "info"
	conf.Redis.PresenceTTL = 30
	conf.RabbitMQ.Exchange = "chat_events"
	conf.Messaging.MaxContentLength = 5000
	conf.Messaging.HistoryLimit = 50
	conf.Messaging.MaxHistoryLimit = 100
	conf.Messaging.SearchLimit = 20
	conf.Messaging.NotifyQueueSize = 1024
	conf.Messaging.NotifyWorkers = 4
	return conf
}

// applyEnv - переопределения из окружения (docker-compose, .env)
func applyEnv(conf *ConfigSchema) {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		conf.RabbitMQ.URL = v
		conf.RabbitMQ.Enabled = true
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		conf.Redis.Host = v
		conf.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			conf.Redis.Port = port
		}
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		conf.Databases.Master.DSN = v
	}
}
