package repository

import (
	"context"
	"errors"

	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"gorm.io/gorm"
)

// SeedRepository 种子仓储接口
type SeedRepository interface {
	BaseRepository
	Create(ctx context.Context, seed *models.Seed) error
	FindByID(ctx context.Context, id uint) (*models.Seed, error)
	List(ctx context.Context, pagination *Pagination) ([]*models.Seed, error)
}

// seedRepo 种子仓储实现
type seedRepo struct {
	*BaseRepo
}

// NewSeedRepository 创建种子仓储
func NewSeedRepository(db *gorm.DB) SeedRepository {
	return &seedRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// Create 创建种子
func (r *seedRepo) Create(ctx context.Context, seed *models.Seed) error {
	return r.db.WithContext(ctx).Create(seed).Error
}

// FindByID 根据ID查找种子
func (r *seedRepo) FindByID(ctx context.Context, id uint) (*models.Seed, error) {
	var seed models.Seed
	err := r.db.WithContext(ctx).First(&seed, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrSeedNotFound)
		}
		return nil, err
	}
	return &seed, nil
}

// List 分页查询种子列表
func (r *seedRepo) List(ctx context.Context, pagination *Pagination) ([]*models.Seed, error) {
	var seeds []*models.Seed
	query := r.db.WithContext(ctx).Model(&models.Seed{})

	var total int64
	query.Count(&total)
	pagination.Total = total

	err := query.
		Limit(pagination.PageSize).
		Offset(pagination.Offset()).
		Order("created_at DESC").
		Find(&seeds).Error

	return seeds, err
}

// WithTx 使用事务
func (r *seedRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &seedRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
