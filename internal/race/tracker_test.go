package race

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rbignon/speedfog-racing-sub000/internal/config"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"github.com/rbignon/speedfog-racing-sub000/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

// recordingBroadcaster 记录广播的测试实现
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(raceID uint, event string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == event {
			n++
		}
	}
	return n
}

// TrackerTestSuite 进度处理测试套件
type TrackerTestSuite struct {
	suite.Suite
	db          *gorm.DB
	service     *Service
	broadcaster *recordingBroadcaster
	seed        *models.Seed
	race        *models.Race
}

func (suite *TrackerTestSuite) SetupTest() {
	suite.db = repository.SetupTestDB()
	suite.broadcaster = &recordingBroadcaster{}
	suite.service = NewService(suite.db, suite.broadcaster)
	suite.seed = repository.CreateTestSeed(suite.T(), suite.db)
	suite.race = repository.CreateTestRace(suite.T(), suite.db, suite.seed.ID, models.RaceStatusRunning)
}

func (suite *TrackerTestSuite) TearDownTest() {
	repository.CleanupTestDB(suite.db)
}

func (suite *TrackerTestSuite) addPlayer(name string) *models.Participant {
	return repository.CreateTestParticipant(suite.T(), suite.db, suite.race.ID, name, models.ParticipantStatusReady)
}

func (suite *TrackerTestSuite) reload(id uint) *models.Participant {
	p, err := repository.NewParticipantRepository(suite.db).FindByID(context.Background(), id)
	suite.Require().NoError(err)
	return p
}

// TestApplyStatus_FirstTickStartsPlaying 测试开赛后第一条心跳进入playing
func (suite *TrackerTestSuite) TestApplyStatus_FirstTickStartsPlaying() {
	ctx := context.Background()
	p := suite.addPlayer("alice")

	err := suite.service.ApplyStatus(ctx, p.ID, 1000, 0)
	assert.NoError(suite.T(), err)

	found := suite.reload(p.ID)
	assert.Equal(suite.T(), models.ParticipantStatusPlaying, found.Status)
	assert.Equal(suite.T(), int64(1000), found.IGTMs)
	assert.NotNil(suite.T(), found.LastProgressAt)
	assert.Equal(suite.T(), 1, suite.broadcaster.count(EventLeaderboard))
}

// TestApplyStatus_NoProgressNoTimestamp 测试无进度的心跳不刷新超时时钟
func (suite *TrackerTestSuite) TestApplyStatus_NoProgressNoTimestamp() {
	ctx := context.Background()
	p := suite.addPlayer("alice")

	assert.NoError(suite.T(), suite.service.ApplyStatus(ctx, p.ID, 1000, 0))
	first := suite.reload(p.ID)

	// 完全相同的心跳：IGT和死亡数都没变
	assert.NoError(suite.T(), suite.service.ApplyStatus(ctx, p.ID, 1000, 0))
	second := suite.reload(p.ID)

	assert.Equal(suite.T(), first.LastProgressAt.UnixNano(), second.LastProgressAt.UnixNano())
	assert.Equal(suite.T(), 1, suite.broadcaster.count(EventLeaderboard))
}

// TestApplyStatus_DeathAttribution 测试死亡增量记到当前区域
func (suite *TrackerTestSuite) TestApplyStatus_DeathAttribution() {
	ctx := context.Background()
	p := suite.addPlayer("alice")

	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, 1002, 60000)) // liurnia
	assert.NoError(suite.T(), suite.service.ApplyStatus(ctx, p.ID, 90000, 2))

	found := suite.reload(p.ID)
	assert.Equal(suite.T(), 2, found.DeathCount)
	assert.Equal(suite.T(), "liurnia", found.CurrentZone)

	var visit models.ZoneVisit
	err := suite.db.Where("participant_id = ? AND node_id = ?", p.ID, "liurnia").First(&visit).Error
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, visit.Deaths)

	// 移动到下一区域后，新的死亡增量记到新区域，旧区域不变
	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, 1004, 120000)) // leyndell
	assert.NoError(suite.T(), suite.service.ApplyStatus(ctx, p.ID, 150000, 5))

	// First 会把 dest 里已填充的主键并入查询条件，必须先清零
	visit = models.ZoneVisit{}
	err = suite.db.Where("participant_id = ? AND node_id = ?", p.ID, "leyndell").First(&visit).Error
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, visit.Deaths)

	visit = models.ZoneVisit{}
	err = suite.db.Where("participant_id = ? AND node_id = ?", p.ID, "liurnia").First(&visit).Error
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, visit.Deaths)
}

// TestApplyStatus_FrozenAfterFinish 测试完赛后的心跳被静默丢弃
func (suite *TrackerTestSuite) TestApplyStatus_FrozenAfterFinish() {
	ctx := context.Background()
	p := suite.addPlayer("alice")

	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, suite.seed.FinishFlag, 3600000))

	// 完赛后的迟到消息不改变任何字段，也不报错
	err := suite.service.ApplyStatus(ctx, p.ID, 9999999, 50)
	assert.NoError(suite.T(), err)

	found := suite.reload(p.ID)
	assert.Equal(suite.T(), models.ParticipantStatusFinished, found.Status)
	assert.Equal(suite.T(), int64(3600000), found.IGTMs)
	assert.Equal(suite.T(), 0, found.DeathCount)
}

// TestApplyStatus_IgnoredBeforeStart 测试开赛前的心跳不产生变更
func (suite *TrackerTestSuite) TestApplyStatus_IgnoredBeforeStart() {
	ctx := context.Background()
	setupRace := repository.CreateTestRace(suite.T(), suite.db, suite.seed.ID, models.RaceStatusCountdown)
	p := repository.CreateTestParticipant(suite.T(), suite.db, setupRace.ID, "early", models.ParticipantStatusReady)

	err := suite.service.ApplyStatus(ctx, p.ID, 5000, 1)
	assert.NoError(suite.T(), err)

	found := suite.reload(p.ID)
	assert.Equal(suite.T(), models.ParticipantStatusReady, found.Status)
	assert.Equal(suite.T(), int64(0), found.IGTMs)
}

// TestApplyEvent_Discovery 测试区域发现
func (suite *TrackerTestSuite) TestApplyEvent_Discovery() {
	ctx := context.Background()
	p := suite.addPlayer("alice")

	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, 1001, 1000))  // stormveil layer 0
	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, 1002, 60000)) // liurnia layer 1

	found := suite.reload(p.ID)
	assert.Equal(suite.T(), "liurnia", found.CurrentZone)
	assert.Equal(suite.T(), 1, found.CurrentLayer)
	assert.Len(suite.T(), found.ZoneHistory, 2)
}

// TestApplyEvent_DuplicateIdempotent 测试重复事件幂等
func (suite *TrackerTestSuite) TestApplyEvent_DuplicateIdempotent() {
	ctx := context.Background()
	p := suite.addPlayer("alice")

	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, 1002, 60000))
	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, 1002, 65000))
	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, 1002, 70000))

	found := suite.reload(p.ID)
	assert.Len(suite.T(), found.ZoneHistory, 1)
	assert.Equal(suite.T(), int64(60000), found.ZoneHistory[0].IGTMs)
	assert.Equal(suite.T(), 1, found.CurrentLayer)
}

// TestApplyEvent_BacktrackKeepsLayer 测试回头路不降低层数
func (suite *TrackerTestSuite) TestApplyEvent_BacktrackKeepsLayer() {
	ctx := context.Background()
	p := suite.addPlayer("alice")

	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, 1004, 120000)) // leyndell layer 2
	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, 1001, 125000)) // stormveil layer 0

	found := suite.reload(p.ID)
	// 当前位置跟随玩家，层数保持最深记录
	assert.Equal(suite.T(), "stormveil", found.CurrentZone)
	assert.Equal(suite.T(), 2, found.CurrentLayer)
}

// TestApplyEvent_UnknownFlag 测试未知标志被记录后忽略
func (suite *TrackerTestSuite) TestApplyEvent_UnknownFlag() {
	ctx := context.Background()
	p := suite.addPlayer("alice")

	err := suite.service.ApplyEvent(ctx, p.ID, 55555, 1000)
	assert.NoError(suite.T(), err)

	found := suite.reload(p.ID)
	assert.Empty(suite.T(), found.ZoneHistory)
	assert.Equal(suite.T(), "", found.CurrentZone)
}

// TestApplyEvent_FinishFreezesGap 测试完赛差距在完赛时刻冻结
func (suite *TrackerTestSuite) TestApplyEvent_FinishFreezesGap() {
	ctx := context.Background()
	alice := suite.addPlayer("alice")
	bob := suite.addPlayer("bob")
	carol := suite.addPlayer("carol")

	// alice头名完赛，差距为0
	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, alice.ID, suite.seed.FinishFlag, 3600000))
	found := suite.reload(alice.ID)
	assert.Equal(suite.T(), int64(0), *found.GapMs)

	// bob第二名，差距冻结为与alice的差
	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, bob.ID, suite.seed.FinishFlag, 3700000))
	found = suite.reload(bob.ID)
	assert.Equal(suite.T(), int64(100000), *found.GapMs)

	// carol完赛后bob的差距不变
	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, carol.ID, suite.seed.FinishFlag, 3500000))
	found = suite.reload(bob.ID)
	assert.Equal(suite.T(), int64(100000), *found.GapMs)
}

// TestAutoFinish_SinglePlayer 测试单人比赛完赛即结束
func (suite *TrackerTestSuite) TestAutoFinish_SinglePlayer() {
	ctx := context.Background()
	p := suite.addPlayer("solo")

	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, p.ID, suite.seed.FinishFlag, 3600000))

	race, err := repository.NewRaceRepository(suite.db).FindByID(ctx, suite.race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusFinished, race.Status)
	assert.Equal(suite.T(), 1, suite.broadcaster.count(EventRaceStatus))
}

// TestAutoFinish_TwoPlayers 测试双人比赛在第二人终态时结束
func (suite *TrackerTestSuite) TestAutoFinish_TwoPlayers() {
	ctx := context.Background()
	alice := suite.addPlayer("alice")
	bob := suite.addPlayer("bob")

	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, alice.ID, suite.seed.FinishFlag, 3600000))

	races := repository.NewRaceRepository(suite.db)
	race, err := races.FindByID(ctx, suite.race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusRunning, race.Status)

	assert.NoError(suite.T(), suite.service.Forfeit(ctx, bob.ID))

	race, err = races.FindByID(ctx, suite.race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusFinished, race.Status)
	assert.Equal(suite.T(), 1, suite.broadcaster.count(EventRaceStatus))
}

// TestAutoFinish_FivePlayers 测试五人混合终态的精确一次结束
func (suite *TrackerTestSuite) TestAutoFinish_FivePlayers() {
	ctx := context.Background()
	players := make([]*models.Participant, 5)
	for i := range players {
		players[i] = suite.addPlayer(fmt.Sprintf("p%d", i))
	}

	races := repository.NewRaceRepository(suite.db)

	// 三人完赛，一人弃赛，比赛仍在进行
	for i := 0; i < 3; i++ {
		assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, players[i].ID, suite.seed.FinishFlag, int64(3600000+i*1000)))
	}
	assert.NoError(suite.T(), suite.service.Forfeit(ctx, players[3].ID))

	race, err := races.FindByID(ctx, suite.race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusRunning, race.Status)
	assert.Equal(suite.T(), 0, suite.broadcaster.count(EventRaceStatus))

	// 最后一人终态触发结束，且只广播一次
	assert.NoError(suite.T(), suite.service.Forfeit(ctx, players[4].ID))

	race, err = races.FindByID(ctx, suite.race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusFinished, race.Status)
	assert.Equal(suite.T(), 1, suite.broadcaster.count(EventRaceStatus))

	// 之后的重复弃赛是幂等无操作
	assert.NoError(suite.T(), suite.service.Forfeit(ctx, players[4].ID))
	assert.Equal(suite.T(), 1, suite.broadcaster.count(EventRaceStatus))
}

// TestAutoFinish_ConcurrentTerminalPaths 测试并发混合终态下只结束一次
// 完赛、弃赛和超时清扫同时驱动五名选手进入终态，
// 比赛必须恰好转换一次并只广播一次状态。
func (suite *TrackerTestSuite) TestAutoFinish_ConcurrentTerminalPaths() {
	ctx := context.Background()
	players := make([]*models.Participant, 5)
	for i := range players {
		players[i] = suite.addPlayer(fmt.Sprintf("p%d", i))
	}

	// 最后一人走超时清扫路径：playing且最后进度早于超时线
	stale := time.Now().Add(-10 * time.Minute)
	suite.Require().NoError(suite.db.Model(players[4]).Updates(map[string]interface{}{
		"status":           models.ParticipantStatusPlaying,
		"last_progress_at": stale,
	}).Error)

	monitor, err := NewMonitor(suite.db, suite.service, &config.RaceConfig{
		InactivityTimeout: 5 * time.Minute,
		SweepInterval:     time.Minute,
	}, clockwork.NewRealClock())
	suite.Require().NoError(err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id uint, igt int64) {
			defer wg.Done()
			assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, id, suite.seed.FinishFlag, igt))
		}(players[i].ID, int64(3600000+i*1000))
	}
	wg.Add(1)
	go func(id uint) {
		defer wg.Done()
		assert.NoError(suite.T(), suite.service.Forfeit(ctx, id))
	}(players[3].ID)
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(suite.T(), monitor.SweepOnce(ctx))
	}()
	wg.Wait()

	race, err := repository.NewRaceRepository(suite.db).FindByID(ctx, suite.race.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RaceStatusFinished, race.Status)
	assert.Equal(suite.T(), 1, suite.broadcaster.count(EventRaceStatus))

	for _, p := range players {
		assert.True(suite.T(), suite.reload(p.ID).IsTerminal())
	}
}

// TestForfeit_Idempotent 测试弃赛幂等
func (suite *TrackerTestSuite) TestForfeit_Idempotent() {
	ctx := context.Background()
	alice := suite.addPlayer("alice")
	suite.addPlayer("bob")

	assert.NoError(suite.T(), suite.service.ApplyStatus(ctx, alice.ID, 60000, 1))
	assert.NoError(suite.T(), suite.service.Forfeit(ctx, alice.ID))
	assert.NoError(suite.T(), suite.service.Forfeit(ctx, alice.ID))

	found := suite.reload(alice.ID)
	assert.Equal(suite.T(), models.ParticipantStatusAbandoned, found.Status)
	// 弃赛时成绩保留
	assert.Equal(suite.T(), int64(60000), found.IGTMs)
}

// TestForfeit_FrozenAfterAbandon 测试弃赛后的消息被丢弃
func (suite *TrackerTestSuite) TestForfeit_FrozenAfterAbandon() {
	ctx := context.Background()
	alice := suite.addPlayer("alice")
	suite.addPlayer("bob")

	assert.NoError(suite.T(), suite.service.Forfeit(ctx, alice.ID))
	assert.NoError(suite.T(), suite.service.ApplyEvent(ctx, alice.ID, 1002, 60000))

	found := suite.reload(alice.ID)
	assert.Equal(suite.T(), models.ParticipantStatusAbandoned, found.Status)
	assert.Empty(suite.T(), found.ZoneHistory)
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerTestSuite))
}
