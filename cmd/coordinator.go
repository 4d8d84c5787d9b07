package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/planfleet/internal/config"
	"yqhp/planfleet/internal/coordinator"
)

var (
	coordNoStats bool
)

// coordinatorCmd 是 coordinator 子命令
var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "管理 Coordinator",
	Long:  `Coordinator 持有权威计划，通过单字节协议向 agent 提供计划与摘要。`,
}

// coordinatorStartCmd 是 coordinator start 子命令
var coordinatorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动 Coordinator",
	Long: `启动 Coordinator，加载计划并开始监听。
计划加载失败时（文件缺失、格式错误、redis 不可用）使用内置默认计划。`,
	Example: `  # 使用默认配置启动
  planfleet coordinator start

  # 指定监听地址和计划文件
  planfleet coordinator start --address 0.0.0.0:9999 --plan ./attack_plan.json

  # 从 redis 读取计划，并开启状态接口
  planfleet coordinator start --plan-source redis --redis-addr 127.0.0.1:6379 --status-address 127.0.0.1:8081`,
	Args: cobra.NoArgs,
	RunE: runCoordinatorStart,
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)
	coordinatorCmd.AddCommand(coordinatorStartCmd)

	f := coordinatorStartCmd.Flags()
	f.String("address", "", "监听地址 host:port")
	f.String("plan", "", "计划文件路径")
	f.String("plan-source", "", "计划来源 (file, redis)")
	f.String("status-address", "", "只读状态接口地址，为空则关闭")
	f.String("redis-addr", "", "redis 地址")
	f.String("redis-key", "", "保存计划的 redis key")
	f.Duration("stats-interval", 0, "周期性输出流量统计的间隔")
	f.BoolVar(&coordNoStats, "no-stats", false, "退出时不输出流量统计")
}

func runCoordinatorStart(cmd *cobra.Command, args []string) error {
	overrides := map[string]string{}
	setIfChanged(cmd, overrides, "address", "coordinator.address")
	setIfChanged(cmd, overrides, "plan", "coordinator.plan_file")
	setIfChanged(cmd, overrides, "plan-source", "coordinator.plan_source")
	setIfChanged(cmd, overrides, "status-address", "coordinator.status_address")
	setIfChanged(cmd, overrides, "redis-addr", "coordinator.redis.addr")
	setIfChanged(cmd, overrides, "redis-key", "coordinator.redis.key")
	setIfChanged(cmd, overrides, "stats-interval", "coordinator.stats_interval")

	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, "coordinator")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, closeSrc := planSource(cfg)
	defer closeSrc()
	p := coordinator.LoadPlan(ctx, src, log)
	provider, err := coordinator.NewStaticPlan(p)
	if err != nil {
		return fmt.Errorf("发布计划失败: %w", err)
	}

	c := coordinator.New(&coordinator.Config{
		Address:       cfg.Coordinator.Address,
		ReadTimeout:   cfg.Coordinator.ReadTimeout,
		WriteTimeout:  cfg.Coordinator.WriteTimeout,
		StatsInterval: cfg.Coordinator.StatsInterval,
	}, provider, log)
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("启动 Coordinator 失败: %w", err)
	}

	var status *coordinator.StatusServer
	if cfg.Coordinator.StatusAddress != "" {
		status = coordinator.NewStatusServer(c, log)
		if err := status.Start(cfg.Coordinator.StatusAddress); err != nil {
			return fmt.Errorf("启动状态接口失败: %w", err)
		}
	}

	printBanner(cmd)
	if !quiet {
		out := cmd.OutOrStdout()
		snap := provider.Current()
		fmt.Fprintf(out, "  地址: %s\n", c.Addr())
		fmt.Fprintf(out, "  计划来源: %s\n", src)
		fmt.Fprintf(out, "  任务数: %d\n", snap.Tasks)
		fmt.Fprintf(out, "  摘要: %s\n", snap.Digest)
		if status != nil {
			fmt.Fprintf(out, "  状态接口: http://%s/api/v1/health\n", cfg.Coordinator.StatusAddress)
		}
		fmt.Fprintln(out)
	}

	<-ctx.Done()
	if !quiet {
		fmt.Fprintln(cmd.OutOrStdout(), "\n正在关闭 Coordinator...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if status != nil {
		if err := status.Shutdown(shutdownCtx); err != nil {
			log.Warn("status server shutdown", zap.Error(err))
		}
	}
	if err := c.Stop(shutdownCtx); err != nil {
		log.Warn("coordinator shutdown", zap.Error(err))
	}

	if !quiet && !coordNoStats {
		s := c.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "  连接: %d  计划请求: %d  摘要请求: %d  拒绝: %d\n",
			s.Connections, s.PlanRequests, s.DigestRequests, s.Rejected)
	}
	return nil
}

// planSource 根据配置构造计划来源，返回的函数释放其资源
func planSource(cfg *config.Config) (coordinator.Source, func()) {
	if cfg.Coordinator.PlanSource == config.PlanSourceRedis {
		rc := cfg.Coordinator.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		return coordinator.NewRedisSource(client, rc.Key), func() { _ = client.Close() }
	}
	return coordinator.NewFileSource(cfg.Coordinator.PlanFile), func() {}
}
