package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GovernedRecord 单表存储所有集合的记录，payload 为 JSON
type GovernedRecord struct {
	Collection string         `gorm:"primaryKey;size:32"`
	ID         string         `gorm:"primaryKey;size:64"`
	Seq        int64          `gorm:"not null;index"` // 插入顺序
	Payload    datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

func (GovernedRecord) TableName() string {
	return "governed_records"
}

// GormProvider 基于 gorm 的持久化实现（postgres / sqlite）
type GormProvider struct {
	db *gorm.DB

	seqMu   sync.Mutex
	lastSeq int64
}

// NewGormProvider 创建 gorm 持久化实现
func NewGormProvider(db *gorm.DB) *GormProvider {
	return &GormProvider{db: db}
}

// AutoMigrate 自动迁移
func (p *GormProvider) AutoMigrate() error {
	return p.db.AutoMigrate(&GovernedRecord{})
}

// LoadAll 按插入顺序加载集合
func (p *GormProvider) LoadAll(ctx context.Context, collection string) ([]Row, error) {
	var records []GovernedRecord
	if err := p.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("seq ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("加载集合 %s 失败: %w", collection, err)
	}

	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{ID: r.ID, Payload: []byte(r.Payload)})
		p.observeSeq(r.Seq)
	}
	return rows, nil
}

// Apply 在单个事务中执行全部写操作
func (p *GormProvider) Apply(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if op.Delete {
				if err := tx.Where("collection = ? AND id = ?", op.Collection, op.ID).
					Delete(&GovernedRecord{}).Error; err != nil {
					return fmt.Errorf("删除 %s/%s 失败: %w", op.Collection, op.ID, err)
				}
				continue
			}
			rec := GovernedRecord{
				Collection: op.Collection,
				ID:         op.ID,
				Seq:        p.nextSeq(),
				Payload:    datatypes.JSON(op.Payload),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			// 已存在时只更新 payload，保留原插入顺序
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
			}).Create(&rec).Error; err != nil {
				return fmt.Errorf("写入 %s/%s 失败: %w", op.Collection, op.ID, err)
			}
		}
		return nil
	})
}

func (p *GormProvider) nextSeq() int64 {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= p.lastSeq {
		seq = p.lastSeq + 1
	}
	p.lastSeq = seq
	return seq
}

func (p *GormProvider) observeSeq(seq int64) {
	p.seqMu.Lock()
	if seq > p.lastSeq {
		p.lastSeq = seq
	}
	p.seqMu.Unlock()
}
