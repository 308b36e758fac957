package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ParticipantRepository 选手仓储接口
type ParticipantRepository interface {
	BaseRepository
	Create(ctx context.Context, participant *models.Participant) error
	FindByID(ctx context.Context, id uint) (*models.Participant, error)
	FindByToken(ctx context.Context, token string) (*models.Participant, error)
	FindByRace(ctx context.Context, raceID uint) ([]*models.Participant, error)
	Save(ctx context.Context, participant *models.Participant) error
	UpdateProgress(ctx context.Context, participant *models.Participant) error
	AppendZoneVisit(ctx context.Context, visit *models.ZoneVisit) (bool, error)
	AttributeDeaths(ctx context.Context, participantID uint, nodeID string, delta int) error
	MarkFinished(ctx context.Context, participant *models.Participant, igtMs int64, gapMs int64) error
	MarkAbandoned(ctx context.Context, participant *models.Participant) error
	FindStale(ctx context.Context, cutoff time.Time) ([]*models.Participant, error)
}

// participantRepo 选手仓储实现
type participantRepo struct {
	*BaseRepo
}

// NewParticipantRepository 创建选手仓储
func NewParticipantRepository(db *gorm.DB) ParticipantRepository {
	return &participantRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// Create 创建选手
func (r *participantRepo) Create(ctx context.Context, participant *models.Participant) error {
	return r.db.WithContext(ctx).Create(participant).Error
}

// FindByID 根据ID查找选手（含进度历史）
func (r *participantRepo) FindByID(ctx context.Context, id uint) (*models.Participant, error) {
	var participant models.Participant
	err := r.db.WithContext(ctx).
		Preload("ZoneHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("zone_visits.igt_ms ASC")
		}).
		First(&participant, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrParticipantNotFound)
		}
		return nil, err
	}
	return &participant, nil
}

// FindByToken 根据遥测令牌查找选手（认证入口）
func (r *participantRepo) FindByToken(ctx context.Context, token string) (*models.Participant, error) {
	var participant models.Participant
	err := r.db.WithContext(ctx).
		Preload("ZoneHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("zone_visits.igt_ms ASC")
		}).
		Where("mod_token = ?", token).
		First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrParticipantNotFound)
		}
		return nil, err
	}
	return &participant, nil
}

// FindByRace 查找比赛的全部选手（含进度历史）
func (r *participantRepo) FindByRace(ctx context.Context, raceID uint) ([]*models.Participant, error) {
	var participants []*models.Participant
	err := r.db.WithContext(ctx).
		Preload("ZoneHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("zone_visits.igt_ms ASC")
		}).
		Where("race_id = ?", raceID).
		Order("id ASC").
		Find(&participants).Error
	return participants, err
}

// Save 保存选手全部字段
func (r *participantRepo) Save(ctx context.Context, participant *models.Participant) error {
	return r.db.WithContext(ctx).Save(participant).Error
}

// UpdateProgress 更新遥测进度字段
func (r *participantRepo) UpdateProgress(ctx context.Context, participant *models.Participant) error {
	return r.db.WithContext(ctx).
		Model(participant).
		Select("status", "igt_ms", "death_count", "current_zone", "current_layer", "last_progress_at").
		Updates(participant).Error
}

// AppendZoneVisit 追加区域进度记录
// (participant_id, node_id) 唯一索引下重复插入视为无操作，
// 返回 true 表示本次真正写入了新记录。
func (r *participantRepo) AppendZoneVisit(ctx context.Context, visit *models.ZoneVisit) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_id"}, {Name: "node_id"}},
			DoNothing: true,
		}).
		Create(visit)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// AttributeDeaths 把死亡增量记到选手当前区域的进度记录上
// 区域尚无进度记录时（比如起点区域）为无操作。
func (r *participantRepo) AttributeDeaths(ctx context.Context, participantID uint, nodeID string, delta int) error {
	if delta <= 0 || nodeID == "" {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ZoneVisit{}).
		Where("participant_id = ? AND node_id = ?", participantID, nodeID).
		Update("deaths", gorm.Expr("deaths + ?", delta)).Error
}

// MarkFinished 标记选手完赛并冻结最终成绩
func (r *participantRepo) MarkFinished(ctx context.Context, participant *models.Participant, igtMs int64, gapMs int64) error {
	now := time.Now()
	participant.Status = models.ParticipantStatusFinished
	participant.IGTMs = igtMs
	participant.GapMs = &gapMs
	participant.FinishedAt = &now

	return r.db.WithContext(ctx).
		Model(participant).
		Select("status", "igt_ms", "gap_ms", "finished_at").
		Updates(participant).Error
}

// MarkAbandoned 标记选手弃赛（主动弃赛或超时清扫）
func (r *participantRepo) MarkAbandoned(ctx context.Context, participant *models.Participant) error {
	participant.Status = models.ParticipantStatusAbandoned
	return r.db.WithContext(ctx).
		Model(participant).
		Update("status", models.ParticipantStatusAbandoned).Error
}

// FindStale 查找超时未上报的选手
// 只针对进行中比赛里状态为playing的选手；从未上报过进度的不算超时。
func (r *participantRepo) FindStale(ctx context.Context, cutoff time.Time) ([]*models.Participant, error) {
	var participants []*models.Participant
	err := r.db.WithContext(ctx).
		Joins("JOIN races ON races.id = participants.race_id").
		Where("races.status = ?", models.RaceStatusRunning).
		Where("participants.status = ?", models.ParticipantStatusPlaying).
		Where("participants.last_progress_at IS NOT NULL").
		Where("participants.last_progress_at < ?", cutoff).
		Find(&participants).Error
	return participants, err
}

// WithTx 使用事务
func (r *participantRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &participantRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
