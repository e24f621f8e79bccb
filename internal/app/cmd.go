package app

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/config"
)

// ビルド時に -ldflags "-X" で上書きする。
var (
	Version = "dev"
	Commit  = "none"
)

// サブコマンド名。
const (
	CommandServe       = "serve"
	CommandMigrate     = "migrate"
	CommandSweep       = "sweep"
	CommandHealthcheck = "healthcheck"
	CommandVersion     = "version"
)

// マイグレーションの操作。
const (
	migrateUp      = "up"
	migrateDown    = "down"
	migrateVersion = "version"
)

// NewRootCommand はlangualegacyのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
// wにはログとコマンド出力の書き込み先を渡す。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "langualegacy",
		Short:         "LanguaLegacy 認証・セッションAPIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandServe, func(cfg *config.Config) error {
				return runServe(cmd.Context(), cfg)
			})
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		serveCmd(w),
		migrateCmd(w),
		sweepCmd(w),
		healthcheckCmd(),
		versionCmd(),
	)

	return root
}

func serveCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandServe,
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandServe, func(cfg *config.Config) error {
				return runServe(cmd.Context(), cfg)
			})
		},
	}
}

func migrateCmd(w io.Writer) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "データベースマイグレーションを実行する",
		Long:      "引数なしまたはupで未適用のマイグレーションをすべて適用する。downは--stepsで指定した数だけ取り消す。",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{migrateUp, migrateDown, migrateVersion},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := migrateUp
			if len(args) == 1 {
				action = args[0]
			}
			return runWithConfig(w, CommandMigrate, func(cfg *config.Config) error {
				return runMigrate(cmd.OutOrStdout(), cfg, action, steps)
			})
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "downで取り消すマイグレーション数")

	return cmd
}

func sweepCmd(w io.Writer) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   CommandSweep,
		Short: "期限切れセッションを削除する",
		Long:  "期限切れセッションを1回削除して終了する。--watchを指定するとSWEEP_INTERVAL間隔でシグナル受信まで繰り返す。",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandSweep, func(cfg *config.Config) error {
				return runSweep(cmd.Context(), cfg, watch)
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "SWEEP_INTERVAL間隔で繰り返し実行する")

	return cmd
}

// healthcheckCmd はdistroless環境でのDockerヘルスチェック用。
// 軽量に動かすため設定の読み込みをスキップする。
func healthcheckCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   CommandHealthcheck,
		Short: "稼働中のサーバーの/healthを確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}

	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "確認先のポート")

	return cmd
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   CommandVersion,
		Short: "バージョン情報を表示する",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, Version)
				return
			}
			fmt.Fprintf(out, "langualegacy %s (commit %s, %s %s/%s)\n",
				Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "バージョン番号のみ表示する")

	return cmd
}
