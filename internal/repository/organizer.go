package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"gorm.io/gorm"
)

// OrganizerRepository 主办方仓储接口
type OrganizerRepository interface {
	BaseRepository
	Create(ctx context.Context, organizer *models.Organizer) error
	FindByID(ctx context.Context, id uint) (*models.Organizer, error)
	FindByUsername(ctx context.Context, username string) (*models.Organizer, error)
	UpdateLastLogin(ctx context.Context, id uint) error
}

// organizerRepo 主办方仓储实现
type organizerRepo struct {
	*BaseRepo
}

// NewOrganizerRepository 创建主办方仓储
func NewOrganizerRepository(db *gorm.DB) OrganizerRepository {
	return &organizerRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// Create 创建主办方账号
func (r *organizerRepo) Create(ctx context.Context, organizer *models.Organizer) error {
	return r.db.WithContext(ctx).Create(organizer).Error
}

// FindByID 根据ID查找主办方
func (r *organizerRepo) FindByID(ctx context.Context, id uint) (*models.Organizer, error) {
	var organizer models.Organizer
	err := r.db.WithContext(ctx).First(&organizer, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, "主办方不存在")
		}
		return nil, err
	}
	return &organizer, nil
}

// FindByUsername 根据用户名查找主办方
func (r *organizerRepo) FindByUsername(ctx context.Context, username string) (*models.Organizer, error) {
	var organizer models.Organizer
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&organizer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrNotFound, "主办方不存在")
		}
		return nil, err
	}
	return &organizer, nil
}

// UpdateLastLogin 更新最后登录时间
func (r *organizerRepo) UpdateLastLogin(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&models.Organizer{}).
		Where("id = ?", id).
		Update("last_login_at", time.Now()).Error
}

// WithTx 使用事务
func (r *organizerRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &organizerRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
