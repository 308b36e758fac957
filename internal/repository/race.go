package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"gorm.io/gorm"
)

// RaceRepository 比赛仓储接口
type RaceRepository interface {
	BaseRepository
	Create(ctx context.Context, race *models.Race) error
	FindByID(ctx context.Context, id uint) (*models.Race, error)
	FindBySlug(ctx context.Context, slug string) (*models.Race, error)
	FindByIDWithParticipants(ctx context.Context, id uint) (*models.Race, error)
	List(ctx context.Context, pagination *Pagination) ([]*models.Race, error)
	TransitionStatus(ctx context.Context, id uint, from, to models.RaceStatus) error
	FinishRunning(ctx context.Context, id uint, version int64) (bool, error)
}

// raceRepo 比赛仓储实现
type raceRepo struct {
	*BaseRepo
}

// NewRaceRepository 创建比赛仓储
func NewRaceRepository(db *gorm.DB) RaceRepository {
	return &raceRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// Create 创建比赛
func (r *raceRepo) Create(ctx context.Context, race *models.Race) error {
	return r.db.WithContext(ctx).Create(race).Error
}

// FindByID 根据ID查找比赛
func (r *raceRepo) FindByID(ctx context.Context, id uint) (*models.Race, error) {
	var race models.Race
	err := r.db.WithContext(ctx).Preload("Seed").First(&race, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrRaceNotFound)
		}
		return nil, err
	}
	return &race, nil
}

// FindBySlug 根据slug查找比赛
func (r *raceRepo) FindBySlug(ctx context.Context, slug string) (*models.Race, error) {
	var race models.Race
	err := r.db.WithContext(ctx).Preload("Seed").Where("slug = ?", slug).First(&race).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrRaceNotFound)
		}
		return nil, err
	}
	return &race, nil
}

// FindByIDWithParticipants 查找比赛并加载全部选手及其进度
func (r *raceRepo) FindByIDWithParticipants(ctx context.Context, id uint) (*models.Race, error) {
	var race models.Race
	err := r.db.WithContext(ctx).
		Preload("Seed").
		Preload("Participants").
		Preload("Participants.ZoneHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("zone_visits.igt_ms ASC")
		}).
		First(&race, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrRaceNotFound)
		}
		return nil, err
	}
	return &race, nil
}

// List 分页查询比赛列表
func (r *raceRepo) List(ctx context.Context, pagination *Pagination) ([]*models.Race, error) {
	var races []*models.Race
	query := r.db.WithContext(ctx).Model(&models.Race{})

	var total int64
	query.Count(&total)
	pagination.Total = total

	err := query.
		Limit(pagination.PageSize).
		Offset(pagination.Offset()).
		Order("created_at DESC").
		Find(&races).Error

	return races, err
}

// TransitionStatus 主办方驱动的状态转换（只允许向前一步）
// 条件更新保证并发下同一转换只生效一次；每次提交都会自增version。
func (r *raceRepo) TransitionStatus(ctx context.Context, id uint, from, to models.RaceStatus) error {
	updates := map[string]interface{}{
		"status":  to,
		"version": gorm.Expr("version + 1"),
	}
	if to == models.RaceStatusRunning {
		updates["started_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).
		Model(&models.Race{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return apperrors.Newf(apperrors.ErrInvalidTransition, "%s -> %s", from, to)
	}

	return nil
}

// FinishRunning 自动完赛的CAS：仅当状态为running且version匹配时生效
// 返回 true 表示本次调用赢得了转换，一次性副作用归调用方所有；
// 返回 false 表示其他并发评估者已经完成转换，视为无操作成功。
func (r *raceRepo) FinishRunning(ctx context.Context, id uint, version int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Race{}).
		Where("id = ? AND status = ? AND version = ?", id, models.RaceStatusRunning, version).
		Updates(map[string]interface{}{
			"status":      models.RaceStatusFinished,
			"version":     gorm.Expr("version + 1"),
			"finished_at": time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// WithTx 使用事务
func (r *raceRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &raceRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
