package race

import (
	"context"
	"time"

	"github.com/gosimple/slug"
	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/logger"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"github.com/rbignon/speedfog-racing-sub000/internal/repository"
	"github.com/rbignon/speedfog-racing-sub000/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 广播事件类型
const (
	EventLeaderboard = "leaderboard"
	EventRaceStatus  = "race_status"
	EventRaceStart   = "race_start"
)

// Broadcaster 比赛房间广播接口
// 由WebSocket层实现；广播是尽力而为的，慢消费者不阻塞比赛逻辑。
type Broadcaster interface {
	Broadcast(raceID uint, event string, data interface{})
}

// NopBroadcaster 空广播实现（测试用）
type NopBroadcaster struct{}

// Broadcast 实现Broadcaster接口
func (NopBroadcaster) Broadcast(raceID uint, event string, data interface{}) {}

// Service 比赛服务
// 所有遥测端和主办方的写路径都经过这里，进度变更在事务内提交，
// 广播在事务提交之后发出。
type Service struct {
	db          *gorm.DB
	broadcaster Broadcaster
	log         *zap.Logger
}

// NewService 创建比赛服务
func NewService(db *gorm.DB, broadcaster Broadcaster) *Service {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &Service{
		db:          db,
		broadcaster: broadcaster,
		log:         logger.GetModuleLogger("race"),
	}
}

// AuthResult 遥测端认证结果
type AuthResult struct {
	Participant *models.Participant
	Race        *models.Race
	Summary     *models.SeedSummary
	Leaderboard *Leaderboard
}

// Authenticate 遥测端令牌认证
// 成功后已报名选手进入ready状态，返回种子摘要和当前排行榜。
func (s *Service) Authenticate(ctx context.Context, token string) (*AuthResult, error) {
	participants := repository.NewParticipantRepository(s.db)
	races := repository.NewRaceRepository(s.db)

	participant, err := participants.FindByToken(ctx, token)
	if err != nil {
		// 对外不区分令牌不存在和其他查询失败
		return nil, apperrors.New(apperrors.ErrAuthInvalid).WithCause(err)
	}

	race, err := races.FindByIDWithParticipants(ctx, participant.RaceID)
	if err != nil {
		return nil, err
	}

	if !race.IsConnectable() {
		return nil, apperrors.Newf(apperrors.ErrRaceNotConnectable, "race status: %s", race.Status)
	}

	if participant.Status == models.ParticipantStatusRegistered {
		participant.Status = models.ParticipantStatusReady
		if err := participants.UpdateProgress(ctx, participant); err != nil {
			return nil, err
		}
	}

	all := make([]*models.Participant, 0, len(race.Participants))
	for i := range race.Participants {
		if race.Participants[i].ID == participant.ID {
			race.Participants[i].Status = participant.Status
		}
		all = append(all, &race.Participants[i])
	}

	s.log.Info("遥测端认证成功",
		zap.Uint("race_id", race.ID),
		zap.Uint("participant_id", participant.ID),
		zap.String("name", participant.Name),
	)

	return &AuthResult{
		Participant: participant,
		Race:        race,
		Summary:     race.Seed.Summary(),
		Leaderboard: BuildLeaderboard(race.ID, all),
	}, nil
}

// CreateRace 创建比赛
func (s *Service) CreateRace(ctx context.Context, name string, seedID uint) (*models.Race, error) {
	seeds := repository.NewSeedRepository(s.db)
	if _, err := seeds.FindByID(ctx, seedID); err != nil {
		return nil, err
	}

	race := &models.Race{
		Name:   name,
		Slug:   slug.Make(name),
		Status: models.RaceStatusSetup,
		SeedID: seedID,
	}

	races := repository.NewRaceRepository(s.db)
	if err := races.Create(ctx, race); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}

	logger.LogRaceEvent("race_created", race.ID, map[string]interface{}{
		"name": race.Name,
		"slug": race.Slug,
	})

	return race, nil
}

// RegisterParticipant 报名选手并签发遥测令牌
// 只允许在setup阶段报名。
func (s *Service) RegisterParticipant(ctx context.Context, raceID uint, name string) (*models.Participant, error) {
	races := repository.NewRaceRepository(s.db)
	race, err := races.FindByID(ctx, raceID)
	if err != nil {
		return nil, err
	}

	if race.Status != models.RaceStatusSetup {
		return nil, apperrors.Newf(apperrors.ErrInvalidTransition, "比赛已进入%s阶段", race.Status)
	}

	token, err := utils.GenerateRandomString(32)
	if err != nil {
		return nil, err
	}

	participant := &models.Participant{
		RaceID:   raceID,
		Name:     name,
		Status:   models.ParticipantStatusRegistered,
		ModToken: token,
	}

	participants := repository.NewParticipantRepository(s.db)
	if err := participants.Create(ctx, participant); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}

	return participant, nil
}

// StartCountdown 进入倒计时阶段
func (s *Service) StartCountdown(ctx context.Context, raceID uint) error {
	races := repository.NewRaceRepository(s.db)
	race, err := races.FindByID(ctx, raceID)
	if err != nil {
		return err
	}
	if !race.CanTransitionTo(models.RaceStatusCountdown) {
		return apperrors.Newf(apperrors.ErrInvalidTransition, "%s -> %s", race.Status, models.RaceStatusCountdown)
	}

	if err := races.TransitionStatus(ctx, raceID, models.RaceStatusSetup, models.RaceStatusCountdown); err != nil {
		return err
	}

	logger.LogRaceEvent("race_countdown", raceID, nil)
	s.broadcaster.Broadcast(raceID, EventRaceStatus, map[string]interface{}{
		"status": models.RaceStatusCountdown,
	})
	return nil
}

// StartRace 开赛
// 选手在开赛后第一条遥测消息到达时才进入playing。
func (s *Service) StartRace(ctx context.Context, raceID uint) error {
	races := repository.NewRaceRepository(s.db)
	race, err := races.FindByID(ctx, raceID)
	if err != nil {
		return err
	}
	if !race.CanTransitionTo(models.RaceStatusRunning) {
		return apperrors.Newf(apperrors.ErrInvalidTransition, "%s -> %s", race.Status, models.RaceStatusRunning)
	}

	if err := races.TransitionStatus(ctx, raceID, models.RaceStatusCountdown, models.RaceStatusRunning); err != nil {
		return err
	}

	logger.LogRaceEvent("race_started", raceID, nil)
	s.broadcaster.Broadcast(raceID, EventRaceStart, map[string]interface{}{
		"status":     models.RaceStatusRunning,
		"started_at": time.Now().UnixMilli(),
	})
	return nil
}

// Snapshot 比赛全量快照（观战端初始画面、主办方查询）
type Snapshot struct {
	Race        *models.Race `json:"race"`
	Leaderboard *Leaderboard `json:"leaderboard"`
}

// GetSnapshot 获取比赛快照
func (s *Service) GetSnapshot(ctx context.Context, raceID uint) (*Snapshot, error) {
	races := repository.NewRaceRepository(s.db)
	race, err := races.FindByIDWithParticipants(ctx, raceID)
	if err != nil {
		return nil, err
	}

	all := make([]*models.Participant, 0, len(race.Participants))
	for i := range race.Participants {
		all = append(all, &race.Participants[i])
	}

	return &Snapshot{
		Race:        race,
		Leaderboard: BuildLeaderboard(race.ID, all),
	}, nil
}

// CreateSeed 导入种子
func (s *Service) CreateSeed(ctx context.Context, seed *models.Seed) error {
	seeds := repository.NewSeedRepository(s.db)
	return seeds.Create(ctx, seed)
}

// broadcastLeaderboard 广播最新排行榜（事务提交后调用）
func (s *Service) broadcastLeaderboard(ctx context.Context, raceID uint) {
	participants := repository.NewParticipantRepository(s.db)
	all, err := participants.FindByRace(ctx, raceID)
	if err != nil {
		s.log.Error("排行榜广播失败", zap.Uint("race_id", raceID), zap.Error(err))
		return
	}
	s.broadcaster.Broadcast(raceID, EventLeaderboard, BuildLeaderboard(raceID, all))
}
