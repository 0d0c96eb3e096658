// Package config loads application settings from a YAML file and CBQUERY_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/PhucNguyen204/cbquery/backend/carbonblack"
)

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// FieldOverride đổi / thêm mapping field. Dùng list thay vì map vì viper hạ chữ thường key của map.
type FieldOverride struct {
	Field  string `mapstructure:"field"`
	Target string `mapstructure:"target"`
}

type FieldsConfig struct {
	Mappings []FieldOverride `mapstructure:"mappings"`
	// Field path được phép nhận đường dẫn nhiều đoạn
	FullPath []string `mapstructure:"full_path"`
}

type Config struct {
	Addr      string            `mapstructure:"addr"`
	Dialect   string            `mapstructure:"dialect"`
	LogLevel  string            `mapstructure:"log_level"`
	Workers   int               `mapstructure:"workers"`
	RulesPath string            `mapstructure:"rules_path"`
	Tables    map[string]string `mapstructure:"tables"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Fields    FieldsConfig      `mapstructure:"fields"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("dialect", "response")
	v.SetDefault("log_level", "info")
	v.SetDefault("workers", 0)
	v.SetDefault("rules_path", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
}

// Load đọc file cấu hình (nếu path khác rỗng) rồi áp biến môi trường CBQUERY_*,
// ví dụ CBQUERY_DATABASE_DSN cho database.dsn.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CBQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := carbonblack.DialectByName(c.Dialect); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0, got %d", c.Workers)
	}
	for _, m := range c.Fields.Mappings {
		if m.Field == "" || m.Target == "" {
			return fmt.Errorf("config: field mapping needs both field and target (%+v)", m)
		}
	}
	return nil
}

// FieldTable dựng bảng mapping mặc định cộng với các override trong cấu hình.
func (c Config) FieldTable() (carbonblack.FieldTable, error) {
	ft := carbonblack.DefaultFieldTable()
	for _, m := range c.Fields.Mappings {
		ft.AddMapping(m.Field, m.Target)
	}
	for _, f := range c.Fields.FullPath {
		if !ft.SetFullPath(f, true) {
			return ft, fmt.Errorf("config: %s is not a path field", f)
		}
	}
	return ft, nil
}

// TableSelector trả nil khi không cấu hình bảng (tính năng tắt mặc định).
func (c Config) TableSelector() carbonblack.TableSelector {
	if len(c.Tables) == 0 {
		return nil
	}
	return carbonblack.DefaultCategoryTables().Merge(c.Tables)
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
