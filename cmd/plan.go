package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yqhp/planfleet/internal/plan"
)

// planCmd 是 plan 子命令
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "离线处理计划文件",
}

// planDigestCmd 输出计划文件的规范摘要
var planDigestCmd = &cobra.Command{
	Use:   "digest <file>",
	Short: "计算计划文件的摘要",
	Long: `解析计划文件并输出其规范序列化的 SHA-256 摘要，即 Coordinator 发布该文件时 agent 看到的摘要。
未设置 start_time 的任务以当前时间为准，因此摘要每次都会不同。`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanDigest,
}

// planValidateCmd 校验计划文件
var planValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "校验计划文件",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanValidate,
}

// planDefaultCmd 输出内置默认计划
var planDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "输出内置默认计划",
	Args:  cobra.NoArgs,
	RunE:  runPlanDefault,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planDigestCmd, planValidateCmd, planDefaultCmd)
}

func readPlan(path string) (plan.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("读取计划文件失败: %w", err)
	}
	return plan.Deserialize(data)
}

func runPlanDigest(cmd *cobra.Command, args []string) error {
	p, err := readPlan(args[0])
	if err != nil {
		return err
	}
	d, err := p.Digest()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), d)
	return nil
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	p, err := readPlan(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ok: %d tasks\n", p.Len())
	if quiet {
		return nil
	}
	for i, t := range p.Tasks {
		fmt.Fprintf(out, "  [%d] %s %s parallelism=%d start=%s\n", i, t.Kind, t.Target, t.Parallelism, plan.FormatTime(t.StartTime))
	}
	return nil
}

func runPlanDefault(cmd *cobra.Command, args []string) error {
	body, err := plan.Serialize(plan.Default())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return nil
}
