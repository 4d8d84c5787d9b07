// Package cmd 提供 planfleet CLI 的命令实现
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/planfleet/internal/config"
	"yqhp/planfleet/pkg/logger"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
      ___  _             __ _          _
     | _ \| | __ _  _ _ / _| |___ ___| |_
     |  _/| |/ _' || ' \  _| / -_) -_)  _|
     |_|  |_|\__,_||_||_|_| |_\___\___|\__|  %s
`
)

var (
	// 全局配置
	cfgFile string
	debug   bool
	quiet   bool
	noTrace bool
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "planfleet",
	Short: "计划分发与执行",
	Long: `planfleet 由一个 coordinator 与若干 agent 组成。
coordinator 发布一份有序的任务计划及其摘要；agent 启动时拉取计划并执行，
之后周期性比较摘要，在计划变化时重新执行。`,
	Version:      Version,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式")
	rootCmd.PersistentFlags().BoolVar(&noTrace, "no-trace", false, "关闭日志输出")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig 按 默认值 < 文件 < 环境变量 < 命令行 加载并校验配置
func loadConfig(overrides map[string]string) (*config.Config, error) {
	loader := config.NewLoader().WithCmdArgs(overrides)
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if noTrace {
		cfg.Logging.Disabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger 根据配置创建日志记录器，--no-trace 时返回空实现
func newLogger(cfg *config.Config, component string) (logger.Logger, error) {
	if cfg.Logging.Disabled {
		return logger.Nop(), nil
	}
	log, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return log.With(zap.String("component", component)), nil
}

// setIfChanged 仅在 flag 被显式设置时覆盖配置
func setIfChanged(cmd *cobra.Command, overrides map[string]string, flag, path string) {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		overrides[path] = f.Value.String()
	}
}

func printBanner(cmd *cobra.Command) {
	if quiet {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), Banner, Version)
	fmt.Fprintln(cmd.OutOrStdout())
}
