package auth

import (
	"errors"

	"mdm/api/handlers/common"
	"mdm/internal/auth"
	"mdm/internal/governance"
	"mdm/internal/logger"
	"mdm/internal/mdm"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	svc        *mdm.Service
	jwtService *auth.JWTService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(svc *mdm.Service, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{svc: svc, jwtService: jwtService}
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	*auth.IssuedToken
	User governance.User `json:"user"`
}

// PasswordRequest 修改密码请求
type PasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login 用户登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.svc.Authenticate(req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		logger.WithContext(c.Request.Context()).Info("登录失败", zap.String("email", req.Email))
		common.Unauthorized(c, "邮箱或密码错误")
		return
	}
	if err != nil {
		common.Fail(c, err)
		return
	}

	token, err := h.jwtService.Issue(user.ID, string(user.UserRole))
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, LoginResponse{IssuedToken: token, User: user})
}

// Logout 用户登出，将当前访问令牌加入黑名单
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token := auth.ExtractTokenFromBearer(c.GetHeader("Authorization"))
	if token != "" {
		if err := h.jwtService.Revoke(c.Request.Context(), token); err != nil {
			// 记录错误但不中断登出流程
			logger.WithContext(c.Request.Context()).Warn("令牌撤销失败", zap.Error(err))
		}
	}
	c.JSON(200, common.APIResponse{Success: true, Message: "登出成功"})
}

// Me 当前用户信息与权限
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	p := common.CurrentPrincipal(c)
	user, err := h.svc.Users.Get(p, p.UserID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	common.Success(c, gin.H{
		"user":        user,
		"permissions": auth.Permissions(p.UserRole),
	})
}

// SetPassword 修改密码：本人或管理员
// PUT /api/v1/users/:id/password
func (h *AuthHandler) SetPassword(c *gin.Context) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.svc.SetPassword(c.Request.Context(), common.CurrentPrincipal(c), c.Param("id"), req.Password); err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(200, common.APIResponse{Success: true, Message: "密码已更新"})
}
