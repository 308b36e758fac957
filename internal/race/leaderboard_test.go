package race

import (
	"testing"

	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"github.com/stretchr/testify/assert"
)

func gap(v int64) *int64 {
	return &v
}

// TestBuildLeaderboard_StatusBuckets 测试状态分组顺序
func TestBuildLeaderboard_StatusBuckets(t *testing.T) {
	participants := []*models.Participant{
		{BaseModel: models.BaseModel{ID: 1}, Name: "abandoned", Status: models.ParticipantStatusAbandoned, CurrentLayer: 5},
		{BaseModel: models.BaseModel{ID: 2}, Name: "registered", Status: models.ParticipantStatusRegistered},
		{BaseModel: models.BaseModel{ID: 3}, Name: "playing", Status: models.ParticipantStatusPlaying, CurrentLayer: 1},
		{BaseModel: models.BaseModel{ID: 4}, Name: "finished", Status: models.ParticipantStatusFinished, IGTMs: 7200000, GapMs: gap(0)},
		{BaseModel: models.BaseModel{ID: 5}, Name: "ready", Status: models.ParticipantStatusReady},
	}

	lb := BuildLeaderboard(42, participants)

	assert.Equal(t, uint(42), lb.RaceID)
	names := make([]string, 0, len(lb.Entries))
	for _, e := range lb.Entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"finished", "playing", "ready", "registered", "abandoned"}, names)

	// 排名从1开始连续
	for i, e := range lb.Entries {
		assert.Equal(t, i+1, e.Rank)
	}
}

// TestBuildLeaderboard_FinishedByIGT 测试完赛者按最终IGT排序
func TestBuildLeaderboard_FinishedByIGT(t *testing.T) {
	participants := []*models.Participant{
		{BaseModel: models.BaseModel{ID: 1}, Name: "silver", Status: models.ParticipantStatusFinished, IGTMs: 7300000, GapMs: gap(100000)},
		{BaseModel: models.BaseModel{ID: 2}, Name: "gold", Status: models.ParticipantStatusFinished, IGTMs: 7200000, GapMs: gap(0)},
		{BaseModel: models.BaseModel{ID: 3}, Name: "bronze", Status: models.ParticipantStatusFinished, IGTMs: 7500000, GapMs: gap(300000)},
	}

	lb := BuildLeaderboard(1, participants)

	assert.Equal(t, "gold", lb.Entries[0].Name)
	assert.Equal(t, "silver", lb.Entries[1].Name)
	assert.Equal(t, "bronze", lb.Entries[2].Name)
	assert.Equal(t, int64(0), *lb.Entries[0].GapMs)
	assert.Equal(t, int64(100000), *lb.Entries[1].GapMs)
}

// TestBuildLeaderboard_PlayingByLayer 测试比赛中选手按层数排序
func TestBuildLeaderboard_PlayingByLayer(t *testing.T) {
	participants := []*models.Participant{
		{BaseModel: models.BaseModel{ID: 1}, Name: "deep", Status: models.ParticipantStatusPlaying, CurrentLayer: 3},
		{BaseModel: models.BaseModel{ID: 2}, Name: "shallow", Status: models.ParticipantStatusPlaying, CurrentLayer: 1},
		{BaseModel: models.BaseModel{ID: 3}, Name: "mid", Status: models.ParticipantStatusPlaying, CurrentLayer: 2},
	}

	lb := BuildLeaderboard(1, participants)

	assert.Equal(t, "deep", lb.Entries[0].Name)
	assert.Equal(t, "mid", lb.Entries[1].Name)
	assert.Equal(t, "shallow", lb.Entries[2].Name)
}

// TestBuildLeaderboard_SameLayerByEntryTime 测试同层并列时先到者在前
func TestBuildLeaderboard_SameLayerByEntryTime(t *testing.T) {
	participants := []*models.Participant{
		{
			BaseModel: models.BaseModel{ID: 1}, Name: "late", Status: models.ParticipantStatusPlaying, CurrentLayer: 2,
			ZoneHistory: []models.ZoneVisit{
				{NodeID: "a", Layer: 1, IGTMs: 1000},
				{NodeID: "b", Layer: 2, IGTMs: 900000},
			},
		},
		{
			BaseModel: models.BaseModel{ID: 2}, Name: "early", Status: models.ParticipantStatusPlaying, CurrentLayer: 2,
			ZoneHistory: []models.ZoneVisit{
				{NodeID: "c", Layer: 2, IGTMs: 600000},
			},
		},
	}

	lb := BuildLeaderboard(1, participants)

	assert.Equal(t, "early", lb.Entries[0].Name)
	assert.Equal(t, "late", lb.Entries[1].Name)
}

// TestBuildLeaderboard_AbandonedKeepHistoricalRank 测试弃赛者按最后已知进度排序
func TestBuildLeaderboard_AbandonedKeepHistoricalRank(t *testing.T) {
	participants := []*models.Participant{
		{BaseModel: models.BaseModel{ID: 1}, Name: "early-quit", Status: models.ParticipantStatusAbandoned, CurrentLayer: 1, IGTMs: 300000},
		{BaseModel: models.BaseModel{ID: 2}, Name: "late-quit", Status: models.ParticipantStatusAbandoned, CurrentLayer: 3, IGTMs: 1800000},
		{BaseModel: models.BaseModel{ID: 3}, Name: "slow-quit", Status: models.ParticipantStatusAbandoned, CurrentLayer: 3, IGTMs: 2400000},
	}

	lb := BuildLeaderboard(1, participants)

	assert.Equal(t, "late-quit", lb.Entries[0].Name)
	assert.Equal(t, "slow-quit", lb.Entries[1].Name)
	assert.Equal(t, "early-quit", lb.Entries[2].Name)
}

// TestBuildLeaderboard_Empty 测试空比赛
func TestBuildLeaderboard_Empty(t *testing.T) {
	lb := BuildLeaderboard(1, nil)
	assert.Empty(t, lb.Entries)
}
