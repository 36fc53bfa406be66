package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"address-key-service/config"
	"address-key-service/internal/infra"
	"address-key-service/internal/repository"
)

// cacheCmd はDBキャッシュの保守コマンド。サーバーと同じ環境変数を読む。
func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the database-backed secrets cache",
		Long:  "Maintain the database-backed secrets cache (CACHE_DRIVER and DATABASE_URL are read from the environment)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the cache tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openCacheRepository()
			if err != nil {
				return err
			}
			if err := repo.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache tables are up to date.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show row counts of the cache tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openCacheRepository()
			if err != nil {
				return err
			}
			stats, err := repo.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get cache status: %w", err)
			}

			// テーブル形式で出力
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TABLE\tROWS")
			fmt.Fprintln(w, "-----\t----")
			fmt.Fprintf(w, "%s\t%d\n", repository.CacheEntryModel{}.TableName(), stats.Entries)
			fmt.Fprintf(w, "%s\t%d\n", repository.CacheGroupModel{}.TableName(), stats.Groups)
			fmt.Fprintf(w, "%s\t%d\n", repository.CacheGroupMemberModel{}.TableName(), stats.Members)
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every cached secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openCacheRepository()
			if err != nil {
				return err
			}
			if err := repo.Purge(cmd.Context()); err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache purged.")
			return nil
		},
	})
	return cmd
}

// openCacheRepository は環境変数の設定でDBに接続する。
// 行数の確認と削除だけを行うため、KMSによる封印は使わない。
func openCacheRepository() (*repository.CacheRepository, error) {
	// サーバーと同じく.envを読み込む（既存の環境変数は上書きしない）
	_ = godotenv.Load()

	cfg := config.Load()
	if cfg.CacheDriver == config.CacheDriverMemory {
		return nil, fmt.Errorf("CACHE_DRIVER is %q, nothing to maintain", cfg.CacheDriver)
	}

	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return repository.NewCacheRepository(db, nil), nil
}
