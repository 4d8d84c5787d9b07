package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"yqhp/planfleet/internal/agent"
	"yqhp/planfleet/internal/executor"
	"yqhp/planfleet/internal/scheduler"
)

// agentCmd 是 agent 子命令
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "管理 Agent",
	Long:  `Agent 从 Coordinator 拉取计划并执行，通过心跳检测计划变化。`,
}

// agentStartCmd 是 agent start 子命令
var agentStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动 Agent",
	Long: `启动 Agent：拉取计划并立即执行，然后常驻并按随机间隔检查摘要。
启动时无法获取或解析计划将以非零状态退出。`,
	Example: `  # 连接本机 Coordinator
  planfleet agent start

  # 指定 Coordinator 与心跳区间
  planfleet agent start --coordinator 10.0.0.5:9999 --heartbeat-min 30s --heartbeat-max 1m`,
	Args: cobra.NoArgs,
	RunE: runAgentStart,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentStartCmd)

	f := agentStartCmd.Flags()
	f.String("id", "", "Agent ID（不指定则自动生成）")
	f.String("coordinator", "", "Coordinator 地址 host:port")
	f.Duration("heartbeat-min", 0, "心跳最小间隔")
	f.Duration("heartbeat-max", 0, "心跳最大间隔")
	f.Duration("dial-timeout", 0, "连接超时")
	f.Duration("io-timeout", 0, "读写超时")
}

func runAgentStart(cmd *cobra.Command, args []string) error {
	overrides := map[string]string{}
	setIfChanged(cmd, overrides, "id", "agent.id")
	setIfChanged(cmd, overrides, "coordinator", "agent.coordinator_address")
	setIfChanged(cmd, overrides, "heartbeat-min", "agent.heartbeat_min")
	setIfChanged(cmd, overrides, "heartbeat-max", "agent.heartbeat_max")
	setIfChanged(cmd, overrides, "dial-timeout", "agent.dial_timeout")
	setIfChanged(cmd, overrides, "io-timeout", "agent.io_timeout")

	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, "agent")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := executor.NewDefaultRegistry()
	sched := scheduler.New(registry, scheduler.WithLogger(log))
	a := agent.New(&agent.Config{
		ID:                 cfg.Agent.ID,
		CoordinatorAddress: cfg.Agent.CoordinatorAddress,
		HeartbeatMin:       cfg.Agent.HeartbeatMin,
		HeartbeatMax:       cfg.Agent.HeartbeatMax,
		DialTimeout:        cfg.Agent.DialTimeout,
		IOTimeout:          cfg.Agent.IOTimeout,
	}, sched, agent.WithLogger(log))

	printBanner(cmd)
	if !quiet {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "  ID: %s\n", a.ID())
		fmt.Fprintf(out, "  Coordinator: %s\n", cfg.Agent.CoordinatorAddress)
		fmt.Fprintf(out, "  心跳区间: %s - %s\n", cfg.Agent.HeartbeatMin, cfg.Agent.HeartbeatMax)
		fmt.Fprintf(out, "  任务类型: %v\n", registry.Kinds())
		fmt.Fprintln(out)
	}

	if err := a.Run(ctx); err != nil {
		return err
	}
	if !quiet {
		st := a.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "\nAgent 已停止，共执行 %d 次计划，最后摘要 %s\n", st.Runs, st.Digest.Short())
	}
	return nil
}
