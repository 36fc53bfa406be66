// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"address-key-service/config"
	"address-key-service/internal/handler"
	"address-key-service/internal/infra"
	"address-key-service/internal/repository"
	"address-key-service/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	infra.SetupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	cache, closeCache, err := newSecretsCache(ctx, cfg)
	if err != nil {
		slog.Error("failed to init secrets cache", "error", err)
		os.Exit(1)
	}
	defer closeCache()

	// DI
	directory := infra.NewDirectoryClient(cfg.DirectoryURL, cfg.DirectoryUID, cfg.DirectoryAccessToken, cfg.DirectoryTimeout)
	pgp := infra.NewPGPProvider()
	userKeys := usecase.NewUserKeyResolver(directory, cache, pgp, cfg.UserID, []byte(cfg.KeyPassphrase))
	addresses := usecase.NewAddressKeyResolver(directory, userKeys, cache, pgp)
	publicKeys := usecase.NewPublicKeyResolver(directory, cache, pgp)
	h := handler.NewAddressHandler(addresses, publicKeys, pgp)
	router := handler.NewRouter(h, cfg)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port, "cache_driver", cfg.CacheDriver)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// newSecretsCache はCACHE_DRIVERに応じたキャッシュを生成する。
// DBを使う場合も起動時に全削除し、プロセスより長く解錠済み鍵を残さない。
func newSecretsCache(ctx context.Context, cfg *config.Config) (usecase.SecretsCache, func(), error) {
	if cfg.CacheDriver == config.CacheDriverMemory {
		return repository.NewMemoryCache(), func() {}, nil
	}

	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	var sealer repository.Sealer
	closeFn := func() {}
	if cfg.KMSKeyName != "" {
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			return nil, nil, fmt.Errorf("creating KMS client: %w", err)
		}
		sealer = kmsClient
		closeFn = func() {
			if err := kmsClient.Close(); err != nil {
				slog.Error("failed to close KMS client", "error", err)
			}
		}
	} else {
		slog.Warn("KMS_KEY_NAME is not set, cache entries are stored unsealed", "cache_driver", cfg.CacheDriver)
	}

	repo := repository.NewCacheRepository(db, sealer)
	if err := repo.Migrate(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("migrating cache tables: %w", err)
	}
	if err := repo.Purge(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("purging cache: %w", err)
	}
	return repo, closeFn, nil
}
