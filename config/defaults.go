// =============================================================================
// 📦 AgentFleet 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Health:    DefaultHealthConfig(),
		Recovery:  DefaultRecoveryConfig(),
		Storage:   DefaultStorageConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultSchedulerConfig 返回默认调度器配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Strategy:           "best_match",
		MaxConcurrency:     5,
		QueueSize:          10000,
		DefaultTaskTimeout: 60 * time.Second,
		DecisionHistory:    1000,
		DispatchWorkers:    256,
		DispatchTimeout:    5 * time.Minute,
	}
}

// DefaultHealthConfig 返回默认健康检查配置
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:        30 * time.Second,
		Timeout:         90 * time.Second,
		SweepInterval:   10 * time.Second,
		PollEnabled:     false,
		PollTimeout:     5 * time.Second,
		PollConcurrency: 8,
	}
}

// DefaultRecoveryConfig 返回默认恢复配置
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Enabled:            true,
		MaxRestartAttempts: 3,
		RestartDelay:       5 * time.Second,
		CallTimeout:        30 * time.Second,
		AutoStartEnabled:   true,
	}
}

// DefaultStorageConfig 返回默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		StatsBackend:    "memory",
		ResultsBackend:  "memory",
		ResultRetention: 24 * time.Hour,
		KeyPrefix:       "agentfleet:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "agentfleet",
		Collection:     "task_results",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agentfleet",
		Password:        "",
		Name:            "agentfleet",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "agentfleet",
		SampleRate:   0.1,
	}
}
