package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"legalai/internal/ai"
	"legalai/internal/chat"
	"legalai/internal/rag"

	"github.com/spf13/cobra"
)

func newRootCmd(open opener) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "legalctl",
		Short:         "法律知识库运维与问答调试工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径")
	root.CompletionOptions.DisableDefaultCmd = true

	var withBackend backendRunner = func(run func(cmd *cobra.Command, b backend, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			b, err := open(configPath)
			if err != nil {
				return err
			}
			defer b.Close()
			return run(cmd, b, args)
		}
	}

	root.AddCommand(
		newIngestCmd(withBackend),
		newSweepCmd(withBackend),
		newSearchCmd(withBackend),
		newAskCmd(withBackend),
	)
	return root
}

type backendRunner func(run func(cmd *cobra.Command, b backend, args []string) error) func(*cobra.Command, []string) error

func newIngestCmd(with backendRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <source-id>",
		Short: "同步执行一次 queued/failed 知识源的入库",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, b backend, args []string) error {
			outcome, err := b.Ingest(cmd.Context(), args[0])
			if outcome != nil {
				if werr := writeJSON(cmd.OutOrStdout(), outcome); werr != nil {
					return werr
				}
			}
			switch {
			case errors.Is(err, rag.ErrIngestionFailed):
				return fmt.Errorf("入库失败，已按重试策略处理: %w", err)
			case errors.Is(err, rag.ErrRetryNotAllowed):
				return fmt.Errorf("知识源当前状态不允许入库: %w", err)
			}
			return err
		}),
	}
}

func newSweepCmd(with backendRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "重新投递 queued/failed 且未达重试上限的知识源",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, b backend, _ []string) error {
			n, err := b.RetryStaleSources(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued: %d\n", n)
			b.Drain()
			return err
		}),
	}
}

func newSearchCmd(with backendRunner) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "执行混合检索并输出候选与上下文",
		Args:  cobra.MinimumNArgs(1),
		RunE: with(func(cmd *cobra.Command, b backend, args []string) error {
			result := b.Search(cmd.Context(), strings.Join(args, " "), lang)
			return writeJSON(cmd.OutOrStdout(), result)
		}),
	}
	cmd.Flags().StringVar(&lang, "lang", "en", "问题语言 (en, ur)")
	return cmd
}

func newAskCmd(with backendRunner) *cobra.Command {
	var (
		lang     string
		province string
		provider string
		model    string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "以安全模式提问，不写入会话",
		Args:  cobra.MinimumNArgs(1),
		RunE: with(func(cmd *cobra.Command, b backend, args []string) error {
			if provider != "" {
				if _, ok := ai.ParseProvider(provider); !ok {
					return fmt.Errorf("不支持的提供商: %s", provider)
				}
			}
			resp, err := b.Ask(cmd.Context(), &chat.AskRequest{
				CallOptions: ai.CallOptions{Provider: provider, Model: model},
				UserID:      "cli",
				Question:    strings.Join(args, " "),
				Language:    lang,
				Province:    province,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Answer)
			if len(resp.SourceTitles) > 0 {
				fmt.Fprintf(out, "\nsources: %s\n", strings.Join(resp.SourceTitles, "; "))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&lang, "lang", "en", "回答语言 (en, ur)")
	cmd.Flags().StringVar(&province, "province", "", "省份")
	cmd.Flags().StringVar(&provider, "provider", "", "模型提供商")
	cmd.Flags().StringVar(&model, "model", "", "模型名称")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
