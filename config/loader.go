// =============================================================================
// 📦 AgentFleet 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTFLEET").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentFleet 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Scheduler 调度器配置
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Health 健康检查配置
	Health HealthConfig `yaml:"health" env:"HEALTH"`

	// Recovery 故障恢复配置
	Recovery RecoveryConfig `yaml:"recovery" env:"RECOVERY"`

	// Storage 统计与结果存储后端
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo 结果存储使用的 MongoDB 配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Agents 静态 Agent 列表，仅支持 YAML
	Agents []AgentConfig `yaml:"agents" env:"-"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的限流速率
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORS 允许的来源，为空时不启用
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 运维接口（重置 Agent、启停恢复）的 JWT 密钥，为空时运维接口关闭
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// JWT 签发者，非空时校验 iss
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	// TLS 证书与私钥，同时设置时 API 端口以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	// 选择策略: best_match, fastest_response, lowest_cost, round_robin, load_balanced
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 每个 Agent 默认最大并发
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 队列容量
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 任务默认超时
	DefaultTaskTimeout time.Duration `yaml:"default_task_timeout" env:"DEFAULT_TASK_TIMEOUT"`
	// 保留的分配决策数
	DecisionHistory int `yaml:"decision_history" env:"DECISION_HISTORY"`
	// 派发工作协程上限
	DispatchWorkers int `yaml:"dispatch_workers" env:"DISPATCH_WORKERS"`
	// 单次 HTTP 派发请求超时
	DispatchTimeout time.Duration `yaml:"dispatch_timeout" env:"DISPATCH_TIMEOUT"`
}

// HealthConfig 健康检查配置
type HealthConfig struct {
	// 期望心跳周期，超过即降级
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 心跳丢失阈值，超过即不可用
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 后台扫描周期
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// 是否主动轮询 Agent 的 /health
	PollEnabled bool `yaml:"poll_enabled" env:"POLL_ENABLED"`
	// 轮询请求超时
	PollTimeout time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
	// 轮询并发数
	PollConcurrency int `yaml:"poll_concurrency" env:"POLL_CONCURRENCY"`
}

// RecoveryConfig 故障恢复配置
type RecoveryConfig struct {
	// 是否启用自动重启
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 最大重启次数，耗尽后排除出调度
	MaxRestartAttempts int `yaml:"max_restart_attempts" env:"MAX_RESTART_ATTEMPTS"`
	// stop 与 start 之间的等待
	RestartDelay time.Duration `yaml:"restart_delay" env:"RESTART_DELAY"`
	// 单次生命周期调用超时
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// 是否在引擎启动时拉起 auto_start 的 Agent
	AutoStartEnabled bool `yaml:"auto_start_enabled" env:"AUTO_START_ENABLED"`
}

// StorageConfig 存储后端配置
type StorageConfig struct {
	// 性能统计后端: memory, redis, database
	StatsBackend string `yaml:"stats_backend" env:"STATS_BACKEND"`
	// 任务结果后端: memory, redis, mongo
	ResultsBackend string `yaml:"results_backend" env:"RESULTS_BACKEND"`
	// 任务结果保留时长
	ResultRetention time.Duration `yaml:"result_retention" env:"RESULT_RETENTION"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接串
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 任务结果集合
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 连接与探活超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文 gRPC
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// AgentConfig 静态声明的 Agent
type AgentConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Capabilities   []string          `yaml:"capabilities"`
	Endpoint       string            `yaml:"endpoint"`
	MaxConcurrency int               `yaml:"max_concurrency"`
	CostPerRequest float64           `yaml:"cost_per_request"`
	CostTier       string            `yaml:"cost_tier"`
	Priority       float64           `yaml:"priority"`
	Metadata       map[string]string `yaml:"metadata"`
	// 引擎启动时自动拉起处于停止状态的 Agent
	AutoStart bool `yaml:"auto_start"`
}

// Record 转换为调度视图
func (a AgentConfig) Record() fleet.AgentRecord {
	return fleet.AgentRecord{
		ID:             a.ID,
		Name:           a.Name,
		Capabilities:   append([]string(nil), a.Capabilities...),
		Endpoint:       a.Endpoint,
		MaxConcurrency: a.MaxConcurrency,
		CostPerRequest: a.CostPerRequest,
		CostTier:       fleet.CostTier(a.CostTier),
		Priority:       a.Priority,
		Metadata:       a.Metadata,
		AutoStart:      a.AutoStart,
	}
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTFLEET",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}

	if _, err := fleet.ParseStrategy(c.Scheduler.Strategy); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Scheduler.MaxConcurrency <= 0 {
		errs = append(errs, "scheduler.max_concurrency must be positive")
	}
	if c.Scheduler.QueueSize <= 0 {
		errs = append(errs, "scheduler.queue_size must be positive")
	}
	if c.Scheduler.DefaultTaskTimeout <= 0 {
		errs = append(errs, "scheduler.default_task_timeout must be positive")
	}

	if c.Health.Interval <= 0 {
		errs = append(errs, "health.interval must be positive")
	}
	if c.Health.Timeout <= c.Health.Interval {
		errs = append(errs, "health.timeout must exceed health.interval")
	}
	if c.Health.SweepInterval <= 0 {
		errs = append(errs, "health.sweep_interval must be positive")
	}

	if c.Recovery.MaxRestartAttempts < 0 {
		errs = append(errs, "recovery.max_restart_attempts must not be negative")
	}
	if c.Recovery.RestartDelay < 0 {
		errs = append(errs, "recovery.restart_delay must not be negative")
	}

	switch c.Storage.StatsBackend {
	case "memory", "redis", "database":
	default:
		errs = append(errs, fmt.Sprintf("unknown storage.stats_backend %q", c.Storage.StatsBackend))
	}
	switch c.Storage.ResultsBackend {
	case "memory", "redis":
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" || c.Mongo.Collection == "" {
			errs = append(errs, "mongo results backend requires mongo.uri, mongo.database and mongo.collection")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage.results_backend %q", c.Storage.ResultsBackend))
	}
	if c.Storage.StatsBackend == "database" && c.Database.DSN() == "" {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	seen := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Sprintf("duplicate agent id %q", id))
		}
		seen[id] = struct{}{}
		if len(a.Capabilities) == 0 {
			errs = append(errs, fmt.Sprintf("agent %q declares no capabilities", id))
		}
		switch fleet.CostTier(a.CostTier) {
		case "", fleet.CostStandard, fleet.CostPremium, fleet.CostEnterprise:
		default:
			errs = append(errs, fmt.Sprintf("agent %q has unknown cost_tier %q", id, a.CostTier))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// MigrationURL 返回 golang-migrate 使用的数据库 URL
func (d *DatabaseConfig) MigrationURL() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return "sqlite://" + d.Name
	default:
		return ""
	}
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
