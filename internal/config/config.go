package config

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/viper"
)

// Config хранит все настройки приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Game      GameConfig
	WebSocket WebSocketConfig
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig содержит унифицированные настройки подключения к Redis
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	// Mode: Режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: Список адресов Redis (хост:порт). Используется для всех режимов.
	// Для 'single', если не пуст, используется первый адрес из списка.
	Addrs []string `mapstructure:"addrs"`

	// Addr: Альтернативный адрес для режима 'single' (для обратной совместимости).
	// Используется, если Mode="single" и Addrs пустой.
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: Имя мастер-сервера Redis (только для режима "sentinel")
	MasterName string `mapstructure:"master_name"`

	// MaxRetries: Максимальное количество попыток переподключения (-1 - бесконечно). По умолчанию 0 (без ретраев).
	MaxRetries int `mapstructure:"max_retries"`

	// MinRetryBackoff: Минимальный интервал между попытками (в миллисекундах). По умолчанию 8ms.
	MinRetryBackoff int `mapstructure:"min_retry_backoff"`

	// MaxRetryBackoff: Максимальный интервал между попытками (в миллисекундах). По умолчанию 512ms.
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"`
}

// GameConfig содержит настройки игрового движка
type GameConfig struct {
	// DefaultTimeLimitSec — лимит времени на вопрос, если раунд его не задает
	DefaultTimeLimitSec int `mapstructure:"default_time_limit_sec"`

	// GracePeriodSec — допуск после номинального истечения времени
	// (толерантность к рассинхронизации часов и сетевым задержкам)
	GracePeriodSec int `mapstructure:"grace_period_sec"`

	// MaxPlayersPerRoom — верхний предел игроков в комнате
	MaxPlayersPerRoom int `mapstructure:"max_players_per_room"`

	// RoomIdleTTLMin — через сколько минут простоя комната подлежит сносу
	RoomIdleTTLMin int `mapstructure:"room_idle_ttl_min"`

	// CleanupIntervalMin — период прохода уборщика заброшенных комнат
	CleanupIntervalMin int `mapstructure:"cleanup_interval_min"`

	// SettlementChannel — канал Redis, в который публикуется сигнал prizes-ready
	SettlementChannel string `mapstructure:"settlement_channel"`
}

// WebSocketConfig содержит настройки WebSocket-подсистемы
type WebSocketConfig struct {
	Buffers BuffersConfig
	Ping    PingConfig
	Limits  LimitsConfig
}

// BuffersConfig содержит настройки буферов
type BuffersConfig struct {
	ClientSendBuffer int
	BroadcastBuffer  int
}

// PingConfig содержит настройки пингов
type PingConfig struct {
	Interval int
	Timeout  int
}

// LimitsConfig содержит настройки ограничений
type LimitsConfig struct {
	MaxMessageSize int
	WriteWait      int
	PongWait       int
}

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// Load загружает конфигурацию из файла
func Load(configPath string) (*Config, error) {
	vip := viper.New() // Используем новый экземпляр Viper, чтобы избежать глобального состояния

	// 1. Значения по умолчанию для игрового движка
	vip.SetDefault("game.default_time_limit_sec", 20)
	vip.SetDefault("game.grace_period_sec", 2)
	vip.SetDefault("game.max_players_per_room", 100)
	vip.SetDefault("game.room_idle_ttl_min", 30)
	vip.SetDefault("game.cleanup_interval_min", 1)
	vip.SetDefault("game.settlement_channel", "settlement:prizes_ready")
	vip.SetDefault("server.port", "8080")

	// 2. Привязываем переменные окружения ЯВНО
	// Привязка для секции Database
	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")

	// Привязка для секции Redis
	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS") // Для массива строк
	vip.BindEnv("redis.addr", "REDIS_ADDR")   // Для одиночной строки
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	// Привязка для секции Game
	vip.BindEnv("game.grace_period_sec", "GAME_GRACE_PERIOD_SEC")
	vip.BindEnv("game.max_players_per_room", "GAME_MAX_PLAYERS_PER_ROOM")
	vip.BindEnv("game.room_idle_ttl_min", "GAME_ROOM_IDLE_TTL_MIN")
	vip.BindEnv("game.settlement_channel", "GAME_SETTLEMENT_CHANNEL")

	// Привязка для Server
	vip.BindEnv("server.port", "SERVER_PORT")

	// 3. Устанавливаем путь к файлу конфигурации
	if configPath != "" {
		vip.SetConfigFile(configPath)
		// 4. Пытаемся прочитать файл конфигурации (не страшно, если его нет, т.к. есть BindEnv)
		if err := vip.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Printf("Файл конфигурации '%s' не найден, используются переменные окружения/умолчания.", configPath)
			} else {
				log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v", configPath, err)
			}
		}
	}

	// 5. Анмаршалим конфигурацию (Viper объединит значения из файла и привязанных env vars)
	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 6. Логирование конфигурации (только в debug режиме)
	if os.Getenv("GIN_MODE") != "release" {
		log.Printf("--- Загруженные значения конфигурации ---")
		log.Printf("Database Host: %s", cfg.Database.Host)
		log.Printf("Database Port: %s", cfg.Database.Port)
		log.Printf("Database Name: %s", cfg.Database.DBName)
		log.Printf("Redis Addr: %s", cfg.Redis.Addr)
		log.Printf("Redis Mode: %s", cfg.Redis.Mode)
		log.Printf("Server Port: %s", cfg.Server.Port)
		log.Printf("Game Grace Period: %ds", cfg.Game.GracePeriodSec)
		log.Printf("Room Idle TTL: %dmin", cfg.Game.RoomIdleTTLMin)
		log.Printf("-----------------------------------------")
	}

	return &cfg, nil
}
