package usecase

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// doShared は同じキーの同時実行を1回にまとめる。
// 共有処理は最初の呼び出し元のキャンセルを引き継がず、各呼び出し元は自身のctxが終わった時点で待機をやめる。
func doShared(ctx context.Context, g *singleflight.Group, key string, fn func(ctx context.Context) error) error {
	shared := context.WithoutCancel(ctx)
	ch := g.DoChan(key, func() (interface{}, error) {
		return nil, fn(shared)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}
