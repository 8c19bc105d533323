package app

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/unstabling/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はスコア再計算ワーカーとして常駐することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandRescore はスコア再計算を1回だけ実行することを示す。
	CommandRescore Command = "rescore"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はサブコマンドを登録したルートコマンドを返す。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "unstabling",
		Short:         "アイデア投稿と stable/unstable 投票のAPIサーバー",
		Long:          "アイデアの投稿・返信・投票を受け付け、並び順に応じたフィードを配信するAPIサーバーです。",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, w, CommandServe, runServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "APIサーバーを起動する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withConfig(cmd, w, CommandServe, runServe)
			},
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "スコア再計算を定期実行する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withConfig(cmd, w, CommandWorker, runWorker)
			},
		},
		&cobra.Command{
			Use:   string(CommandMigrate),
			Short: "未適用のマイグレーションをすべて適用する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withConfig(cmd, w, CommandMigrate, runMigrate)
			},
		},
		&cobra.Command{
			Use:   string(CommandRescore),
			Short: "スコア再計算を1回実行して結果を出力する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withConfig(cmd, w, CommandRescore, func(ctx context.Context, cfg *config.Config) error {
					return runRescore(ctx, cfg, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   string(CommandHealthcheck),
			Short: "ローカルの /health に問い合わせる",
			Args:  cobra.NoArgs,
			// 軽量サブコマンドのため、設定の読み込みをスキップする
			RunE: func(cmd *cobra.Command, args []string) error {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				return runHealthcheck("http://localhost:" + port + "/health")
			},
		},
	)

	return root
}
