package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/models"
	"github.com/rbignon/speedfog-racing-sub000/internal/race"
	"github.com/rbignon/speedfog-racing-sub000/internal/repository"
	"gorm.io/gorm"
)

// RaceHandler 比赛管理处理器
type RaceHandler struct {
	db      *gorm.DB
	service *race.Service
}

// NewRaceHandler 创建比赛处理器
func NewRaceHandler(db *gorm.DB, service *race.Service) *RaceHandler {
	return &RaceHandler{
		db:      db,
		service: service,
	}
}

// respondError 统一错误响应
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		c.JSON(appErr.HTTPStatus(), gin.H{
			"success": false,
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": appErr.Details,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error": gin.H{
			"code":    apperrors.ErrUnknown,
			"message": err.Error(),
		},
	})
}

// respondOK 统一成功响应
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam, "无效的ID"))
		return 0, false
	}
	return uint(id), true
}

// CreateRaceRequest 创建比赛请求
type CreateRaceRequest struct {
	Name   string `json:"name" binding:"required"`
	SeedID uint   `json:"seed_id" binding:"required"`
}

// CreateRace 创建比赛
func (h *RaceHandler) CreateRace(c *gin.Context) {
	var req CreateRaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	created, err := h.service.CreateRace(c.Request.Context(), req.Name, req.SeedID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, created)
}

// ListRaces 比赛列表
func (h *RaceHandler) ListRaces(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	pagination := repository.NewPagination(page, pageSize)
	races, err := repository.NewRaceRepository(h.db).List(c.Request.Context(), pagination)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"races":      races,
		"pagination": pagination,
	})
}

// GetRace 比赛快照（含排行榜）
func (h *RaceHandler) GetRace(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	snapshot, err := h.service.GetSnapshot(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, snapshot)
}

// RegisterParticipantRequest 报名请求
type RegisterParticipantRequest struct {
	Name string `json:"name" binding:"required"`
}

// RegisterParticipant 报名选手
// 响应包含遥测令牌，主办方负责把令牌交给选手。
func (h *RaceHandler) RegisterParticipant(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req RegisterParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	participant, err := h.service.RegisterParticipant(c.Request.Context(), id, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"participant": participant,
		"mod_token":   participant.ModToken,
	})
}

// StartCountdown 进入倒计时
func (h *RaceHandler) StartCountdown(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.StartCountdown(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{"status": models.RaceStatusCountdown})
}

// StartRace 开赛
func (h *RaceHandler) StartRace(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.StartRace(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{"status": models.RaceStatusRunning})
}

// ForfeitParticipant 主办方判定弃赛
func (h *RaceHandler) ForfeitParticipant(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	pid, ok := parseID(c, "pid")
	if !ok {
		return
	}

	participant, err := repository.NewParticipantRepository(h.db).FindByID(c.Request.Context(), pid)
	if err != nil {
		respondError(c, err)
		return
	}
	if participant.RaceID != id {
		respondError(c, apperrors.New(apperrors.ErrParticipantNotFound, "选手不属于该比赛"))
		return
	}

	if err := h.service.Forfeit(c.Request.Context(), pid); err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{"status": models.ParticipantStatusAbandoned})
}

// CreateSeedRequest 导入种子请求
type CreateSeedRequest struct {
	Name        string              `json:"name" binding:"required"`
	TotalLayers int                 `json:"total_layers" binding:"required"`
	Nodes       models.SeedNodeList `json:"nodes" binding:"required"`
	Flags       models.FlagMap      `json:"flags" binding:"required"`
	FinishFlag  uint32              `json:"finish_flag" binding:"required"`
}

// CreateSeed 导入种子
func (h *RaceHandler) CreateSeed(c *gin.Context) {
	var req CreateSeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	seed := &models.Seed{
		Name:        req.Name,
		TotalLayers: req.TotalLayers,
		Nodes:       req.Nodes,
		Flags:       req.Flags,
		FinishFlag:  req.FinishFlag,
	}

	if err := h.service.CreateSeed(c.Request.Context(), seed); err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, seed)
}

// ListSeeds 种子列表
func (h *RaceHandler) ListSeeds(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	pagination := repository.NewPagination(page, pageSize)
	seeds, err := repository.NewSeedRepository(h.db).List(c.Request.Context(), pagination)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"seeds":      seeds,
		"pagination": pagination,
	})
}
