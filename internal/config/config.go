package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/planfleet/pkg/logger"
)

// Config represents the complete configuration for planfleet.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Agent       AgentConfig       `yaml:"agent"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CoordinatorConfig holds coordinator configuration.
type CoordinatorConfig struct {
	Address       string        `yaml:"address" env:"PF_COORDINATOR_ADDRESS"`
	PlanFile      string        `yaml:"plan_file" env:"PF_COORDINATOR_PLAN_FILE"`
	PlanSource    string        `yaml:"plan_source" env:"PF_COORDINATOR_PLAN_SOURCE"`
	StatusAddress string        `yaml:"status_address" env:"PF_COORDINATOR_STATUS_ADDRESS"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"PF_COORDINATOR_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"PF_COORDINATOR_WRITE_TIMEOUT"`
	StatsInterval time.Duration `yaml:"stats_interval" env:"PF_COORDINATOR_STATS_INTERVAL"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the redis plan source configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"PF_REDIS_ADDR"`
	Password string `yaml:"password" env:"PF_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"PF_REDIS_DB"`
	Key      string `yaml:"key" env:"PF_REDIS_KEY"`
}

// AgentConfig holds agent configuration.
type AgentConfig struct {
	ID                 string        `yaml:"id" env:"PF_AGENT_ID"`
	CoordinatorAddress string        `yaml:"coordinator_address" env:"PF_AGENT_COORDINATOR_ADDRESS"`
	HeartbeatMin       time.Duration `yaml:"heartbeat_min" env:"PF_AGENT_HEARTBEAT_MIN"`
	HeartbeatMax       time.Duration `yaml:"heartbeat_max" env:"PF_AGENT_HEARTBEAT_MAX"`
	DialTimeout        time.Duration `yaml:"dial_timeout" env:"PF_AGENT_DIAL_TIMEOUT"`
	IOTimeout          time.Duration `yaml:"io_timeout" env:"PF_AGENT_IO_TIMEOUT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"PF_LOG_LEVEL"`
	Format     string `yaml:"format" env:"PF_LOG_FORMAT"`
	Output     string `yaml:"output" env:"PF_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"PF_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"PF_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"PF_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"PF_LOG_MAX_AGE"`
	Disabled   bool   `yaml:"disabled" env:"PF_LOG_DISABLED"`
}

// Plan source names.
const (
	PlanSourceFile  = "file"
	PlanSourceRedis = "redis"
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			Address:      "127.0.0.1:9999",
			PlanFile:     "attack_plan.json",
			PlanSource:   PlanSourceFile,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
				Key:  "planfleet:plan",
			},
		},
		Agent: AgentConfig{
			CoordinatorAddress: "127.0.0.1:9999",
			HeartbeatMin:       3 * time.Minute,
			HeartbeatMax:       5 * time.Minute,
			DialTimeout:        5 * time.Second,
			IOTimeout:          30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSize:    1,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoggerConfig converts the logging section for pkg/logger.
func (c LoggingConfig) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{cmdArgs: make(map[string]string)}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithCmdArgs sets dot-path overrides, e.g. "agent.heartbeat_min" -> "10s".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return nil, fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file. A missing file keeps defaults.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

// applyEnvToStruct recursively applies environment variables to tagged fields.
func applyEnvToStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}
	return nil
}

// setConfigValue sets a value by dot path using yaml key names.
func setConfigValue(cfg *Config, path, value string) error {
	v := reflect.ValueOf(cfg).Elem()
	parts := strings.Split(path, ".")
	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}
		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}
		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}
	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(t.Field(i).Name, strings.ReplaceAll(name, "_", "")) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("无效的时间格式: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("无效的整数: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}
	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}
