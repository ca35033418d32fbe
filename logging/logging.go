// Package logging 构造服务使用的 hclog 日志
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Config 是日志配置
type Config struct {
	Level  string    `yaml:"level"`
	JSON   bool      `yaml:"json"`
	Output io.Writer `yaml:"-"`
}

// New 按配置创建根日志，各组件通过 Named 派生子日志
func New(name string, cfg Config) (hclog.Logger, error) {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		if cfg.Level != "" {
			return nil, fmt.Errorf("未知的日志级别 %q", cfg.Level)
		}
		level = hclog.Info
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          out,
		JSONFormat:      cfg.JSON,
		IncludeLocation: level <= hclog.Debug,
	}), nil
}
