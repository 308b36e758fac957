package race

import (
	"context"
	"time"

	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"github.com/rbignon/speedfog-racing-sub000/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ApplyStatus 处理遥测端的状态心跳（IGT、死亡数）
// 终态选手的消息静默丢弃；比赛未开始时心跳不产生任何变更。
// 死亡增量记到选手当前所在区域；只有真实进度才会刷新超时时钟。
func (s *Service) ApplyStatus(ctx context.Context, participantID uint, igtMs int64, deathCount int) error {
	var (
		raceID  uint
		changed bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participants := repository.NewParticipantRepository(tx)
		races := repository.NewRaceRepository(tx)

		p, err := participants.FindByID(ctx, participantID)
		if err != nil {
			return err
		}
		raceID = p.RaceID

		if p.IsTerminal() {
			return apperrors.New(apperrors.ErrStaleOrFrozenUpdate)
		}

		race, err := races.FindByID(ctx, p.RaceID)
		if err != nil {
			return err
		}
		if !race.IsRunning() {
			return nil
		}

		statusChanged := false
		if p.Status == models.ParticipantStatusReady {
			p.Status = models.ParticipantStatusPlaying
			statusChanged = true
		}

		deathDelta := deathCount - p.DeathCount
		progressed := statusChanged || igtMs > p.IGTMs || deathDelta != 0
		if !progressed {
			return nil
		}

		p.IGTMs = igtMs
		p.DeathCount = deathCount
		now := time.Now()
		p.LastProgressAt = &now

		if err := participants.UpdateProgress(ctx, p); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
		}

		if deathDelta > 0 {
			if err := participants.AttributeDeaths(ctx, p.ID, p.CurrentZone, deathDelta); err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
			}
		}

		changed = true
		return nil
	})

	if err != nil {
		if apperrors.IsBenign(err) {
			return nil
		}
		return err
	}

	if changed {
		s.broadcastLeaderboard(ctx, raceID)
	}
	return nil
}

// ApplyEvent 处理遥测端的事件消息（区域发现、完赛标志）
// 同一区域的重复事件只移动当前位置，不追加历史也不回退层数。
func (s *Service) ApplyEvent(ctx context.Context, participantID uint, flagID uint32, igtMs int64) error {
	var (
		raceID      uint
		changed     bool
		finishedNow bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participants := repository.NewParticipantRepository(tx)
		races := repository.NewRaceRepository(tx)

		p, err := participants.FindByID(ctx, participantID)
		if err != nil {
			return err
		}
		raceID = p.RaceID

		if p.IsTerminal() {
			return apperrors.New(apperrors.ErrStaleOrFrozenUpdate)
		}

		race, err := races.FindByID(ctx, p.RaceID)
		if err != nil {
			return err
		}
		if !race.IsRunning() {
			return nil
		}

		if p.Status == models.ParticipantStatusReady {
			p.Status = models.ParticipantStatusPlaying
		}

		seed := &race.Seed

		// 完赛标志：冻结成绩，全员完赛检查放到提交之后
		if flagID == seed.FinishFlag {
			gap, err := s.finishGap(ctx, participants, p, igtMs)
			if err != nil {
				return err
			}
			if err := participants.MarkFinished(ctx, p, igtMs, gap); err != nil {
				return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
			}

			s.log.Info("选手完赛",
				zap.Uint("race_id", race.ID),
				zap.Uint("participant_id", p.ID),
				zap.Int64("igt_ms", igtMs),
				zap.Int64("gap_ms", gap),
			)

			finishedNow = true
			changed = true
			return nil
		}

		nodeID, ok := seed.ResolveFlag(flagID)
		if !ok {
			s.log.Warn("未知的事件标志",
				zap.Uint("participant_id", p.ID),
				zap.Uint32("flag_id", flagID),
			)
			return apperrors.Newf(apperrors.ErrUnknownEventFlag, "flag %d", flagID)
		}

		p.CurrentZone = nodeID

		layer := seed.NodeLayer(nodeID)
		inserted, err := participants.AppendZoneVisit(ctx, &models.ZoneVisit{
			ParticipantID: p.ID,
			NodeID:        nodeID,
			Layer:         layer,
			IGTMs:         igtMs,
		})
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}
		if inserted && layer > p.CurrentLayer {
			p.CurrentLayer = layer
		}

		if igtMs > p.IGTMs {
			p.IGTMs = igtMs
		}
		now := time.Now()
		p.LastProgressAt = &now

		if err := participants.UpdateProgress(ctx, p); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
		}

		changed = true
		return nil
	})

	if err != nil {
		if apperrors.IsBenign(err) {
			return nil
		}
		return err
	}

	var raceFinished bool
	if finishedNow {
		won, ferr := s.checkAutoFinish(ctx, raceID)
		if ferr != nil {
			s.log.Error("自动完赛检查失败",
				zap.Uint("race_id", raceID),
				zap.Error(ferr),
			)
		}
		raceFinished = won
	}

	if changed {
		s.broadcastLeaderboard(ctx, raceID)
	}
	if raceFinished {
		s.broadcaster.Broadcast(raceID, EventRaceStatus, map[string]interface{}{
			"status": models.RaceStatusFinished,
		})
	}
	return nil
}

// Forfeit 弃赛（遥测端主动、主办方操作或超时清扫共用）
// 对终态选手幂等。
func (s *Service) Forfeit(ctx context.Context, participantID uint) error {
	var (
		raceID  uint
		changed bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participants := repository.NewParticipantRepository(tx)

		p, err := participants.FindByID(ctx, participantID)
		if err != nil {
			return err
		}
		raceID = p.RaceID

		if p.IsTerminal() {
			return nil
		}

		if err := participants.MarkAbandoned(ctx, p); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
		}

		s.log.Info("选手弃赛",
			zap.Uint("race_id", p.RaceID),
			zap.Uint("participant_id", p.ID),
		)

		changed = true
		return nil
	})

	if err != nil {
		return err
	}

	var raceFinished bool
	if changed {
		won, ferr := s.checkAutoFinish(ctx, raceID)
		if ferr != nil {
			s.log.Error("自动完赛检查失败",
				zap.Uint("race_id", raceID),
				zap.Error(ferr),
			)
		}
		raceFinished = won
		s.broadcastLeaderboard(ctx, raceID)
	}
	if raceFinished {
		s.broadcaster.Broadcast(raceID, EventRaceStatus, map[string]interface{}{
			"status": models.RaceStatusFinished,
		})
	}
	return nil
}

// finishGap 计算完赛时刻与当前最好成绩的差距
// 头名差距为0；后续完赛者的差距在此刻冻结，之后不再变化。
func (s *Service) finishGap(ctx context.Context, participants repository.ParticipantRepository, p *models.Participant, igtMs int64) (int64, error) {
	all, err := participants.FindByRace(ctx, p.RaceID)
	if err != nil {
		return 0, err
	}

	var best int64 = -1
	for _, other := range all {
		if other.ID == p.ID || other.Status != models.ParticipantStatusFinished {
			continue
		}
		if best < 0 || other.IGTMs < best {
			best = other.IGTMs
		}
	}

	if best < 0 {
		return 0, nil
	}
	gap := igtMs - best
	if gap < 0 {
		gap = 0
	}
	return gap, nil
}
