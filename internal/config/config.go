package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 全局配置（加载后视为只读，所有字段在 applyDefaults 之后保证非空）
type Config struct {
	Detector Detector       `mapstructure:"detector"`
	Attack   Attack         `mapstructure:"attack"`
	Soot     Soot           `mapstructure:"soot"`
	Engine   Engine         `mapstructure:"engine"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Intake   IntakeConfig   `mapstructure:"intake"`
	Log      LogConfig      `mapstructure:"log"`
	APKDir   string         `mapstructure:"apk_dir"`
}

// Detector TPL 检测工具配置
type Detector struct {
	Type           string `mapstructure:"type"` // LibScan, LibPecker, LibHunter, LiteRadar, LibLoom
	LibScanPath    string `mapstructure:"libscan_path"`
	LibScanToolDir string `mapstructure:"libscan_tool_dir"`
}

// Attack 攻击参数配置
type Attack struct {
	Strategies        []string `mapstructure:"strategies"`
	MaxIterations     int      `mapstructure:"max_iterations"`
	TargetSuccessRate float64  `mapstructure:"target_success_rate"` // 仅用于报告，不做强制判定
}

// Soot 外部引擎的 Soot 环境路径
type Soot struct {
	AndroidJar string `mapstructure:"android_jar"`
	OutputDir  string `mapstructure:"output_dir"`
	ProcessDir string `mapstructure:"process_dir"`
}

// Engine Java 攻击引擎的执行配置
type Engine struct {
	BaseDir        string `mapstructure:"base_dir"`        // 引擎工程根目录（子进程工作目录）
	BasicTimeout   int    `mapstructure:"basic_timeout"`   // 秒，基础攻击单 APK
	SingleTimeout  int    `mapstructure:"single_timeout"`  // 秒，自动化攻击单 APK
	BatchTimeout   int    `mapstructure:"batch_timeout"`   // 秒，批量攻击（目录）
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

type WorkerConfig struct {
	// 引擎是 JVM 静态分析进程，内存开销大且输出目录按活动划分，
	// 默认只允许一个并发实例
	Concurrency int `mapstructure:"concurrency"`
	QueueSize   int `mapstructure:"queue_size"`
}

// IntakeConfig 投放目录自动建战役的配置
// 监控到的每个 APK 都攻击同一个目标 TPL，所以目标必须预先配置
type IntakeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	TPLPath string `mapstructure:"tpl_path"`
	TPLName string `mapstructure:"tpl_name"`
	Mode    string `mapstructure:"mode"` // basic, automated
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// BasicTimeoutDuration 基础攻击超时
func (e *Engine) BasicTimeoutDuration() time.Duration {
	return time.Duration(e.BasicTimeout) * time.Second
}

// SingleTimeoutDuration 自动化攻击单 APK 超时
func (e *Engine) SingleTimeoutDuration() time.Duration {
	return time.Duration(e.SingleTimeout) * time.Second
}

// BatchTimeoutDuration 批量攻击超时
func (e *Engine) BatchTimeoutDuration() time.Duration {
	return time.Duration(e.BatchTimeout) * time.Second
}

// Default 内置默认配置
// 这些字面量是对外承诺的一部分：配置文件缺失时行为必须与文档一致
func Default() *Config {
	return &Config{
		Detector: Detector{
			Type:           "LibScan",
			LibScanPath:    "TPL_Detectors/LibScan/tool/LibScan.py",
			LibScanToolDir: "TPL_Detectors/LibScan/tool",
		},
		Attack: Attack{
			Strategies: []string{
				"rename_packages",
				"rename_classes",
				"modify_signatures",
				"inject_fake_libraries",
			},
			MaxIterations:     100,
			TargetSuccessRate: 0.85,
		},
		Soot: Soot{
			AndroidJar: "/opt/android-sdk/platforms/android-30/android.jar",
			OutputDir:  "./output",
			ProcessDir: "./process",
		},
		Engine: Engine{
			BaseDir:       ".",
			BasicTimeout:  600,  // 10 分钟
			SingleTimeout: 3600, // 1 小时
			BatchTimeout:  7200, // 2 小时
		},
		Server: ServerConfig{
			Port: 8080,
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./data/campaigns.db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:  "localhost",
			Port:  5672,
			User:  "guest",
			VHost: "/",
			Queue: "attack_campaigns",
		},
		Worker: WorkerConfig{
			Concurrency: 1,
			QueueSize:   100,
		},
		Intake: IntakeConfig{
			Mode: "basic",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		APKDir: "./inbound_apks",
	}
}

// Load 从文件加载配置，失败时返回错误（由调用方决定是否回退默认值）
func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// 环境变量覆盖（支持嵌套配置）
	viper.AutomaticEnv()
	viper.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	viper.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	viper.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	viper.BindEnv("rabbitmq.password", "RABBITMQ_PASS")
	viper.BindEnv("database.host", "MYSQL_HOST")
	viper.BindEnv("database.port", "MYSQL_PORT")
	viper.BindEnv("database.user", "MYSQL_USER")
	viper.BindEnv("database.password", "MYSQL_PASS")
	viper.BindEnv("database.db_name", "MYSQL_DB")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrDefault 加载配置，文件缺失或解析失败时回退到内置默认配置
// 该调用永远不会失败
func LoadOrDefault(path string, logger *logrus.Logger) *Config {
	cfg, err := Load(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("Config unavailable, using built-in defaults")
		return Default()
	}

	logger.WithField("path", path).Info("Config loaded")
	return cfg
}

// applyDefaults 对缺失字段填充默认值
// 所有默认规则集中在这里执行一次，下游代码不再判断字段是否为空
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Detector.Type == "" {
		cfg.Detector.Type = def.Detector.Type
	}
	if cfg.Detector.LibScanPath == "" {
		cfg.Detector.LibScanPath = def.Detector.LibScanPath
	}
	if cfg.Detector.LibScanToolDir == "" {
		cfg.Detector.LibScanToolDir = def.Detector.LibScanToolDir
	}
	if len(cfg.Attack.Strategies) == 0 {
		cfg.Attack.Strategies = def.Attack.Strategies
	}
	if cfg.Attack.MaxIterations <= 0 {
		cfg.Attack.MaxIterations = def.Attack.MaxIterations
	}
	if cfg.Attack.TargetSuccessRate <= 0 {
		cfg.Attack.TargetSuccessRate = def.Attack.TargetSuccessRate
	}
	if cfg.Soot.AndroidJar == "" {
		cfg.Soot.AndroidJar = def.Soot.AndroidJar
	}
	if cfg.Soot.OutputDir == "" {
		cfg.Soot.OutputDir = def.Soot.OutputDir
	}
	if cfg.Soot.ProcessDir == "" {
		cfg.Soot.ProcessDir = def.Soot.ProcessDir
	}
	if cfg.Engine.BaseDir == "" {
		cfg.Engine.BaseDir = def.Engine.BaseDir
	}
	if cfg.Engine.BasicTimeout <= 0 {
		cfg.Engine.BasicTimeout = def.Engine.BasicTimeout
	}
	if cfg.Engine.SingleTimeout <= 0 {
		cfg.Engine.SingleTimeout = def.Engine.SingleTimeout
	}
	if cfg.Engine.BatchTimeout <= 0 {
		cfg.Engine.BatchTimeout = def.Engine.BatchTimeout
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = def.Server.Mode
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = def.Database.Type
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = def.Database.Path
	}
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = def.RabbitMQ.Host
	}
	if cfg.RabbitMQ.Port <= 0 {
		cfg.RabbitMQ.Port = def.RabbitMQ.Port
	}
	if cfg.RabbitMQ.User == "" {
		cfg.RabbitMQ.User = def.RabbitMQ.User
	}
	if cfg.RabbitMQ.VHost == "" {
		cfg.RabbitMQ.VHost = def.RabbitMQ.VHost
	}
	if cfg.RabbitMQ.Queue == "" {
		cfg.RabbitMQ.Queue = def.RabbitMQ.Queue
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = def.Worker.Concurrency
	}
	if cfg.Worker.QueueSize <= 0 {
		cfg.Worker.QueueSize = def.Worker.QueueSize
	}
	if cfg.Intake.Mode == "" {
		cfg.Intake.Mode = def.Intake.Mode
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.APKDir == "" {
		cfg.APKDir = def.APKDir
	}
}
