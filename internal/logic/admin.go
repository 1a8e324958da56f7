package logic

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"basebox-backend/internal/capsule"
	"basebox-backend/internal/common"
	"basebox-backend/internal/kv"
)

type adminAuthRequest struct {
	Password string `json:"password"`
}

type adminCapsuleRequest struct {
	CapsuleID string `json:"capsuleId"`
}

// AdminAuthHandler 密码换取会话 token
func (s *Server) AdminAuthHandler(c *gin.Context) {
	var req adminAuthRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	password := s.cfg.Admin.Password
	if password == "" {
		s.fail(c, keySuccess, common.NewInternal("Admin access is not configured", nil))
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(password)) != 1 {
		common.WithFields(logrus.Fields{"ip": c.ClientIP()}).Warn("admin login rejected")
		s.fail(c, keySuccess, common.NewUnauthorized("Invalid password"))
		return
	}

	token := uuid.NewString()
	issued := s.now().UTC().Format(time.RFC3339)
	if err := s.store.Set(c.Request.Context(), kv.AdminSessionKey(token), issued, s.sessionTTL()); err != nil {
		s.fail(c, keySuccess, common.NewInternal("Failed to create session", err))
		return
	}
	common.WithFields(logrus.Fields{"ip": c.ClientIP()}).Info("admin session issued")
	c.JSON(http.StatusOK, gin.H{keySuccess: true, "token": token})
}

func (s *Server) sessionTTL() time.Duration {
	if s.cfg.Admin.SessionTTL > 0 {
		return s.cfg.Admin.SessionTTL
	}
	return common.DefaultAdminSessionTTL
}

// adminRequired 每次请求都校验 Bearer token
func (s *Server) adminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{keySuccess: false, "error": "Unauthorized"})
			return
		}
		_, ok, err := s.store.Get(c.Request.Context(), kv.AdminSessionKey(token))
		if err != nil {
			s.fail(c, keySuccess, common.NewInternal("Failed to verify session", err))
			c.Abort()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{keySuccess: false, "error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// AdminCapsulesHandler 全部胶囊和统计
func (s *Server) AdminCapsulesHandler(c *gin.Context) {
	all, err := s.capsules.ListAll(c.Request.Context())
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	now := s.capsules.Now()
	c.JSON(http.StatusOK, gin.H{
		keySuccess: true,
		"capsules": capsule.Views(all, now, false),
		"stats":    capsule.ComputeStats(all, now),
	})
}

func (s *Server) bindCapsuleID(c *gin.Context) (string, bool) {
	var req adminCapsuleRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, keySuccess, err)
		return "", false
	}
	id := strings.TrimSpace(req.CapsuleID)
	if id == "" {
		s.fail(c, keySuccess, common.NewInvalid("capsuleId is required"))
		return "", false
	}
	return id, true
}

// AdminRevealHandler 强制揭晓
func (s *Server) AdminRevealHandler(c *gin.Context) {
	id, ok := s.bindCapsuleID(c)
	if !ok {
		return
	}
	res, err := s.capsules.ForceReveal(c.Request.Context(), id)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{keySuccess: true, "capsule": res.Capsule.ToView(s.capsules.Now(), false)})
}

func (s *Server) AdminDeleteHandler(c *gin.Context) {
	id, ok := s.bindCapsuleID(c)
	if !ok {
		return
	}
	if err := s.capsules.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{keySuccess: true})
}
