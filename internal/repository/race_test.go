package repository

import (
	"context"
	"testing"

	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

// RaceRepositoryTestSuite 比赛仓储测试套件
type RaceRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo RaceRepository
}

func (suite *RaceRepositoryTestSuite) SetupTest() {
	suite.db = SetupTestDB()
	suite.repo = NewRaceRepository(suite.db)
}

func (suite *RaceRepositoryTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

// TestRaceRepository_CreateAndFind 测试创建和查找比赛
func (suite *RaceRepositoryTestSuite) TestRaceRepository_CreateAndFind() {
	ctx := context.Background()
	seed := CreateTestSeed(suite.T(), suite.db)

	race := &models.Race{
		Name:   "Spring Invitational",
		Slug:   "spring-invitational",
		Status: models.RaceStatusSetup,
		SeedID: seed.ID,
	}

	err := suite.repo.Create(ctx, race)
	assert.NoError(suite.T(), err)
	assert.NotZero(suite.T(), race.ID)

	found, err := suite.repo.FindByID(ctx, race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), race.Slug, found.Slug)
	assert.Equal(suite.T(), seed.ID, found.Seed.ID)

	bySlug, err := suite.repo.FindBySlug(ctx, "spring-invitational")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), race.ID, bySlug.ID)

	// 不存在的比赛
	_, err = suite.repo.FindByID(ctx, 99999)
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrRaceNotFound))
}

// TestRaceRepository_TransitionStatus 测试主办方状态转换
func (suite *RaceRepositoryTestSuite) TestRaceRepository_TransitionStatus() {
	ctx := context.Background()
	seed := CreateTestSeed(suite.T(), suite.db)
	race := CreateTestRace(suite.T(), suite.db, seed.ID, models.RaceStatusSetup)

	// setup -> countdown
	err := suite.repo.TransitionStatus(ctx, race.ID, models.RaceStatusSetup, models.RaceStatusCountdown)
	assert.NoError(suite.T(), err)

	found, err := suite.repo.FindByID(ctx, race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusCountdown, found.Status)
	assert.Equal(suite.T(), int64(1), found.Version)

	// countdown -> running 写入开赛时间
	err = suite.repo.TransitionStatus(ctx, race.ID, models.RaceStatusCountdown, models.RaceStatusRunning)
	assert.NoError(suite.T(), err)

	found, err = suite.repo.FindByID(ctx, race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusRunning, found.Status)
	assert.NotNil(suite.T(), found.StartedAt)
	assert.Equal(suite.T(), int64(2), found.Version)
}

// TestRaceRepository_TransitionStatus_StaleFrom 测试前置状态不匹配时转换失败
func (suite *RaceRepositoryTestSuite) TestRaceRepository_TransitionStatus_StaleFrom() {
	ctx := context.Background()
	seed := CreateTestSeed(suite.T(), suite.db)
	race := CreateTestRace(suite.T(), suite.db, seed.ID, models.RaceStatusRunning)

	// 比赛已经running，setup->countdown 不应命中任何行
	err := suite.repo.TransitionStatus(ctx, race.ID, models.RaceStatusSetup, models.RaceStatusCountdown)
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrInvalidTransition))

	found, err := suite.repo.FindByID(ctx, race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusRunning, found.Status)
	assert.Equal(suite.T(), int64(0), found.Version)
}

// TestRaceRepository_FinishRunning 测试自动完赛CAS
func (suite *RaceRepositoryTestSuite) TestRaceRepository_FinishRunning() {
	ctx := context.Background()
	seed := CreateTestSeed(suite.T(), suite.db)
	race := CreateTestRace(suite.T(), suite.db, seed.ID, models.RaceStatusRunning)

	won, err := suite.repo.FinishRunning(ctx, race.ID, race.Version)
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), won)

	found, err := suite.repo.FindByID(ctx, race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusFinished, found.Status)
	assert.NotNil(suite.T(), found.FinishedAt)
	assert.Equal(suite.T(), race.Version+1, found.Version)
}

// TestRaceRepository_FinishRunning_ExactlyOnce 测试同一版本的两次CAS只有一次命中
func (suite *RaceRepositoryTestSuite) TestRaceRepository_FinishRunning_ExactlyOnce() {
	ctx := context.Background()
	seed := CreateTestSeed(suite.T(), suite.db)
	race := CreateTestRace(suite.T(), suite.db, seed.ID, models.RaceStatusRunning)

	// 模拟两个并发评估者各自读到了同一个version后依次提交
	first, err := suite.repo.FinishRunning(ctx, race.ID, race.Version)
	assert.NoError(suite.T(), err)
	second, err := suite.repo.FinishRunning(ctx, race.ID, race.Version)
	assert.NoError(suite.T(), err)

	assert.True(suite.T(), first)
	assert.False(suite.T(), second)

	found, err := suite.repo.FindByID(ctx, race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusFinished, found.Status)
	assert.Equal(suite.T(), race.Version+1, found.Version)
}

// TestRaceRepository_FinishRunning_StaleVersion 测试版本过期时CAS未命中
func (suite *RaceRepositoryTestSuite) TestRaceRepository_FinishRunning_StaleVersion() {
	ctx := context.Background()
	seed := CreateTestSeed(suite.T(), suite.db)
	race := CreateTestRace(suite.T(), suite.db, seed.ID, models.RaceStatusRunning)

	won, err := suite.repo.FinishRunning(ctx, race.ID, race.Version+10)
	assert.NoError(suite.T(), err)
	assert.False(suite.T(), won)

	found, err := suite.repo.FindByID(ctx, race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusRunning, found.Status)
}

// TestRaceRepository_FindByIDWithParticipants 测试加载选手和进度
func (suite *RaceRepositoryTestSuite) TestRaceRepository_FindByIDWithParticipants() {
	ctx := context.Background()
	seed := CreateTestSeed(suite.T(), suite.db)
	race := CreateTestRace(suite.T(), suite.db, seed.ID, models.RaceStatusRunning)
	p := CreateTestParticipant(suite.T(), suite.db, race.ID, "alice", models.ParticipantStatusPlaying)

	visits := []models.ZoneVisit{
		{ParticipantID: p.ID, NodeID: "liurnia", Layer: 1, IGTMs: 60000},
		{ParticipantID: p.ID, NodeID: "stormveil", Layer: 0, IGTMs: 1000},
	}
	err := suite.db.Create(&visits).Error
	assert.NoError(suite.T(), err)

	found, err := suite.repo.FindByIDWithParticipants(ctx, race.ID)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), found.Participants, 1)
	history := found.Participants[0].ZoneHistory
	assert.Len(suite.T(), history, 2)
	// 进度历史按IGT升序加载
	assert.Equal(suite.T(), "stormveil", history[0].NodeID)
	assert.Equal(suite.T(), "liurnia", history[1].NodeID)
}

// TestRaceRepository_List 测试分页查询
func (suite *RaceRepositoryTestSuite) TestRaceRepository_List() {
	ctx := context.Background()
	seed := CreateTestSeed(suite.T(), suite.db)
	for i := 0; i < 5; i++ {
		CreateTestRace(suite.T(), suite.db, seed.ID, models.RaceStatusSetup)
	}

	pagination := NewPagination(1, 3)
	races, err := suite.repo.List(ctx, pagination)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), races, 3)
	assert.Equal(suite.T(), int64(5), pagination.Total)
}

func TestRaceRepositorySuite(t *testing.T) {
	suite.Run(t, new(RaceRepositoryTestSuite))
}
