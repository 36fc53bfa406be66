// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"address-key-service/internal/domain"
)

// CacheEntryModel はキャッシュエントリのgormモデル。
type CacheEntryModel struct {
	Holder    string    `gorm:"type:varchar(64);primaryKey"`
	HolderID  string    `gorm:"type:varchar(255);primaryKey"`
	ValueName string    `gorm:"type:varchar(64);primaryKey"`
	Data      []byte    `gorm:"not null"`
	Tag       uint8     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (CacheEntryModel) TableName() string {
	return "secret_cache_entries"
}

// CacheGroupModel はキャッシュグループの存在を表すモデル。メンバー0件のグループも保持する。
type CacheGroupModel struct {
	Holder    string    `gorm:"type:varchar(64);primaryKey"`
	HolderID  string    `gorm:"type:varchar(255);primaryKey"`
	ValueName string    `gorm:"type:varchar(64);primaryKey"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (CacheGroupModel) TableName() string {
	return "secret_cache_groups"
}

// CacheGroupMemberModel はグループのメンバーを位置付きで保持するモデル。
type CacheGroupMemberModel struct {
	ID              string `gorm:"type:char(36);primaryKey"`
	GroupHolder     string `gorm:"type:varchar(64);not null;index:idx_group"`
	GroupHolderID   string `gorm:"type:varchar(255);not null;index:idx_group"`
	GroupValueName  string `gorm:"type:varchar(64);not null;index:idx_group"`
	Position        int    `gorm:"not null"`
	MemberHolder    string `gorm:"type:varchar(64);not null"`
	MemberHolderID  string `gorm:"type:varchar(255);not null"`
	MemberValueName string `gorm:"type:varchar(64);not null"`
}

// TableName はテーブル名を返す。
func (CacheGroupMemberModel) TableName() string {
	return "secret_cache_group_members"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *CacheGroupMemberModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *CacheGroupMemberModel) member() domain.CacheKey {
	return domain.CacheKey{Holder: m.MemberHolder, ID: m.MemberHolderID, Value: m.MemberValueName}
}

// Sealer はキャッシュに保存するバイト列を暗号化・復号する。
type Sealer interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// CacheRepository はgormによるシークレットキャッシュの実装。
type CacheRepository struct {
	db     *gorm.DB
	sealer Sealer
}

// NewCacheRepository は新しいCacheRepositoryを生成する。sealerがnilの場合は平文で保存する。
func NewCacheRepository(db *gorm.DB, sealer Sealer) *CacheRepository {
	return &CacheRepository{db: db, sealer: sealer}
}

// Migrate はキャッシュ用テーブルを作成する。
func (r *CacheRepository) Migrate(ctx context.Context) error {
	err := r.db.WithContext(ctx).AutoMigrate(&CacheEntryModel{}, &CacheGroupModel{}, &CacheGroupMemberModel{})
	if err != nil {
		slog.ErrorContext(ctx, "failed to migrate cache tables",
			"operation", "migrate",
			"error", err,
		)
		return err
	}
	return nil
}

// Purge は全エントリを削除する。キャッシュの寿命をプロセスに揃えるため起動時に呼ぶ。
func (r *CacheRepository) Purge(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&CacheGroupMemberModel{}, &CacheGroupModel{}, &CacheEntryModel{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				slog.ErrorContext(ctx, "failed to purge cache",
					"operation", "purge",
					"error", err,
				)
				return err
			}
		}
		return nil
	})
}

// CacheStats はキャッシュテーブルの行数。
type CacheStats struct {
	Entries int64
	Groups  int64
	Members int64
}

// Stats はキャッシュテーブルの行数を返す。
func (r *CacheRepository) Stats(ctx context.Context) (*CacheStats, error) {
	var stats CacheStats
	counts := []struct {
		model interface{}
		dst   *int64
	}{
		{&CacheEntryModel{}, &stats.Entries},
		{&CacheGroupModel{}, &stats.Groups},
		{&CacheGroupMemberModel{}, &stats.Members},
	}
	for _, c := range counts {
		if err := r.db.WithContext(ctx).Model(c.model).Count(c.dst).Error; err != nil {
			slog.ErrorContext(ctx, "failed to count cache rows",
				"operation", "stats",
				"error", err,
			)
			return nil, err
		}
	}
	return &stats, nil
}

// Get はエントリを取得する。存在しない場合は nil, nil を返す。
func (r *CacheRepository) Get(ctx context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	var model CacheEntryModel
	err := r.db.WithContext(ctx).
		Where("holder = ? AND holder_id = ? AND value_name = ?", key.Holder, key.ID, key.Value).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to get cache entry",
			"operation", "get",
			"cache_key", key.String(),
			"error", err,
		)
		return nil, err
	}

	data := model.Data
	if r.sealer != nil {
		data, err = r.sealer.Decrypt(ctx, model.Data)
		if err != nil {
			return nil, fmt.Errorf("unsealing cache entry: %w", err)
		}
	}
	return &domain.CacheEntry{Data: data, Tag: model.Tag}, nil
}

// Set はエントリを書き込む（既存は上書き）。
func (r *CacheRepository) Set(ctx context.Context, key domain.CacheKey, entry domain.CacheEntry) error {
	data := entry.Data
	if r.sealer != nil {
		var err error
		data, err = r.sealer.Encrypt(ctx, entry.Data)
		if err != nil {
			return fmt.Errorf("sealing cache entry: %w", err)
		}
	}

	model := &CacheEntryModel{
		Holder:    key.Holder,
		HolderID:  key.ID,
		ValueName: key.Value,
		Data:      data,
		Tag:       entry.Tag,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to set cache entry",
			"operation", "set",
			"cache_key", key.String(),
			"error", err,
		)
		return err
	}
	return nil
}

// IncludeInGroup はグループのメンバーをトランザクション内で置き換える。
func (r *CacheRepository) IncludeInGroup(ctx context.Context, group domain.CacheKey, members []domain.CacheKey) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groupModel := &CacheGroupModel{Holder: group.Holder, HolderID: group.ID, ValueName: group.Value}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(groupModel).Error; err != nil {
			return err
		}
		if err := deleteMembers(tx, group); err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}

		rows := make([]CacheGroupMemberModel, len(members))
		for i, m := range members {
			rows[i] = CacheGroupMemberModel{
				GroupHolder:     group.Holder,
				GroupHolderID:   group.ID,
				GroupValueName:  group.Value,
				Position:        i,
				MemberHolder:    m.Holder,
				MemberHolderID:  m.ID,
				MemberValueName: m.Value,
			}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to include cache group",
			"operation", "include_in_group",
			"group", group.String(),
			"members", len(members),
			"error", err,
		)
		return err
	}
	return nil
}

// GroupMembers はグループのメンバーを位置順に返す。
func (r *CacheRepository) GroupMembers(ctx context.Context, group domain.CacheKey) ([]domain.CacheKey, bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CacheGroupModel{}).
		Where("holder = ? AND holder_id = ? AND value_name = ?", group.Holder, group.ID, group.Value).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find cache group",
			"operation", "group_members",
			"group", group.String(),
			"error", err,
		)
		return nil, false, err
	}
	if count == 0 {
		return nil, false, nil
	}

	var rows []CacheGroupMemberModel
	err = r.db.WithContext(ctx).
		Where("group_holder = ? AND group_holder_id = ? AND group_value_name = ?", group.Holder, group.ID, group.Value).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find cache group members",
			"operation", "group_members",
			"group", group.String(),
			"error", err,
		)
		return nil, false, err
	}

	members := make([]domain.CacheKey, len(rows))
	for i := range rows {
		members[i] = rows[i].member()
	}
	return members, true, nil
}

// InvalidateGroup はグループとメンバーのエントリを削除する。
func (r *CacheRepository) InvalidateGroup(ctx context.Context, group domain.CacheKey) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []CacheGroupMemberModel
		if err := tx.
			Where("group_holder = ? AND group_holder_id = ? AND group_value_name = ?", group.Holder, group.ID, group.Value).
			Find(&rows).Error; err != nil {
			return err
		}
		for i := range rows {
			m := rows[i].member()
			if err := tx.
				Where("holder = ? AND holder_id = ? AND value_name = ?", m.Holder, m.ID, m.Value).
				Delete(&CacheEntryModel{}).Error; err != nil {
				return err
			}
		}
		if err := deleteMembers(tx, group); err != nil {
			return err
		}
		return tx.
			Where("holder = ? AND holder_id = ? AND value_name = ?", group.Holder, group.ID, group.Value).
			Delete(&CacheGroupModel{}).Error
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to invalidate cache group",
			"operation", "invalidate_group",
			"group", group.String(),
			"error", err,
		)
		return err
	}
	return nil
}

func deleteMembers(tx *gorm.DB, group domain.CacheKey) error {
	return tx.
		Where("group_holder = ? AND group_holder_id = ? AND group_value_name = ?", group.Holder, group.ID, group.Value).
		Delete(&CacheGroupMemberModel{}).Error
}
