package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/rbignon/speedfog-racing-sub000/internal/errors"
	"github.com/rbignon/speedfog-racing-sub000/internal/logger"
	"github.com/rbignon/speedfog-racing-sub000/internal/repository"
	"github.com/rbignon/speedfog-racing-sub000/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthHandler 主办方认证处理器
type AuthHandler struct {
	organizers repository.OrganizerRepository
	jwt        *utils.JWTManager
	log        *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(db *gorm.DB, jwt *utils.JWTManager) *AuthHandler {
	return &AuthHandler{
		organizers: repository.NewOrganizerRepository(db),
		jwt:        jwt,
		log:        logger.GetModuleLogger("api"),
	}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 主办方登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam, err.Error()))
		return
	}

	organizer, err := h.organizers.FindByUsername(c.Request.Context(), req.Username)
	if err != nil {
		// 不暴露用户名是否存在
		respondError(c, apperrors.New(apperrors.ErrAuthInvalid))
		return
	}

	ok, err := utils.VerifyPassword(req.Password, organizer.PasswordHash)
	if err != nil || !ok {
		h.log.Warn("登录失败",
			zap.String("username", req.Username),
			zap.String("ip", c.ClientIP()),
		)
		respondError(c, apperrors.New(apperrors.ErrAuthInvalid))
		return
	}

	token, err := h.jwt.GenerateToken(organizer.ID, organizer.Username, organizer.Role)
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrUnknown))
		return
	}

	if err := h.organizers.UpdateLastLogin(c.Request.Context(), organizer.ID); err != nil {
		h.log.Warn("更新登录时间失败", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"token":    token,
			"username": organizer.Username,
			"role":     organizer.Role,
		},
	})
}
