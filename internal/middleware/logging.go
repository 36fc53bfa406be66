// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// WriteAuditLog は監査ログを出力する。subject はアドレスIDまたはメールアドレス。
func WriteAuditLog(ctx context.Context, operation string, subject string, result string) {
	slog.InfoContext(ctx, "key operation completed",
		"operation", operation,
		"subject", subject,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
