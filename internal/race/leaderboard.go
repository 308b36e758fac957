package race

import (
	"math"
	"sort"

	"github.com/rbignon/speedfog-racing-sub000/internal/models"
)

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	ParticipantID uint                     `json:"participant_id"`
	Name          string                   `json:"name"`
	Rank          int                      `json:"rank"`
	Status        models.ParticipantStatus `json:"status"`
	IGTMs         int64                    `json:"igt_ms"`
	DeathCount    int                      `json:"death_count"`
	CurrentZone   string                   `json:"current_zone,omitempty"`
	CurrentLayer  int                      `json:"current_layer"`
	GapMs         *int64                   `json:"gap_ms,omitempty"`
}

// Leaderboard 排行榜快照（每次广播都是全量）
type Leaderboard struct {
	RaceID  uint               `json:"race_id"`
	Entries []LeaderboardEntry `json:"entries"`
}

// statusBucket 排行榜状态分组顺序
var statusBucket = map[models.ParticipantStatus]int{
	models.ParticipantStatusFinished:   0,
	models.ParticipantStatusPlaying:    1,
	models.ParticipantStatusReady:      2,
	models.ParticipantStatusRegistered: 3,
	models.ParticipantStatusAbandoned:  4,
}

// BuildLeaderboard 根据选手集合构建排行榜
// 排序规则：
//   - 完赛者按最终IGT升序，差距使用完赛时刻冻结的gap_ms；
//   - 比赛中按当前层降序，同层按首次到达该层的IGT升序；
//   - 弃赛者垫底，按最后已知的层数和IGT；准备中/已报名按报名顺序。
func BuildLeaderboard(raceID uint, participants []*models.Participant) *Leaderboard {
	entries := make([]LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, LeaderboardEntry{
			ParticipantID: p.ID,
			Name:          p.Name,
			Status:        p.Status,
			IGTMs:         p.IGTMs,
			DeathCount:    p.DeathCount,
			CurrentZone:   p.CurrentZone,
			CurrentLayer:  p.CurrentLayer,
			GapMs:         p.GapMs,
		})
	}

	// 同层并列时的先后由首次到达该层的IGT决定
	layerEntry := make(map[uint]int64, len(participants))
	for _, p := range participants {
		if igt, ok := p.LayerEntryIGT(p.CurrentLayer); ok {
			layerEntry[p.ID] = igt
		} else {
			layerEntry[p.ID] = math.MaxInt64
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if statusBucket[a.Status] != statusBucket[b.Status] {
			return statusBucket[a.Status] < statusBucket[b.Status]
		}

		switch a.Status {
		case models.ParticipantStatusFinished:
			if a.IGTMs != b.IGTMs {
				return a.IGTMs < b.IGTMs
			}
		case models.ParticipantStatusPlaying:
			if a.CurrentLayer != b.CurrentLayer {
				return a.CurrentLayer > b.CurrentLayer
			}
			ea, eb := layerEntry[a.ParticipantID], layerEntry[b.ParticipantID]
			if ea != eb {
				return ea < eb
			}
		case models.ParticipantStatusAbandoned:
			// 弃赛者按最后已知进度保留有意义的历史名次
			if a.CurrentLayer != b.CurrentLayer {
				return a.CurrentLayer > b.CurrentLayer
			}
			if a.IGTMs != b.IGTMs {
				return a.IGTMs < b.IGTMs
			}
		}

		// 报名顺序兜底
		return a.ParticipantID < b.ParticipantID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return &Leaderboard{
		RaceID:  raceID,
		Entries: entries,
	}
}
