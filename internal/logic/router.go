package logic

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
)

// 响应里表示成败的字段名，打卡相关接口用 ok，其余用 success
const (
	keySuccess = "success"
	keyOK      = "ok"
)

// SetupRouter 路由入口
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	api := r.Group("/api")

	api.POST("/capsules/create", s.CreateCapsuleHandler)
	api.GET("/capsules/list", s.ListCapsulesHandler)
	api.GET("/capsules/stats", s.CapsuleStatsHandler)
	api.GET("/capsules/:id", s.GetCapsuleHandler)
	api.GET("/capsules/:id/image", s.CapsuleImageHandler)
	api.POST("/capsules/reveal", s.RevealCapsuleHandler)

	api.POST("/check-and-claim", s.ClaimHandler)
	api.POST("/claim", s.ClaimHandler)
	api.GET("/streak", s.StreakHandler)
	api.GET("/leaderboard", s.LeaderboardHandler)
	api.GET("/leaderboard/live", s.LiveLeaderboardHandler)

	api.GET("/achievements", s.AchievementsHandler)
	api.GET("/referral", s.ReferralHandler)
	api.POST("/referral/code", s.ReferralCodeHandler)
	api.POST("/referral/redeem", s.RedeemReferralHandler)

	api.POST("/admin/auth", s.AdminAuthHandler)
	admin := api.Group("/admin", s.adminRequired())
	admin.GET("/capsules", s.AdminCapsulesHandler)
	admin.POST("/capsules/reveal", s.AdminRevealHandler)
	admin.POST("/capsules/delete", s.AdminDeleteHandler)

	api.GET("/nft/contract", s.ContractMetadataHandler)
	api.GET("/nft/:capsuleId", s.CapsuleMetadataHandler)

	api.POST("/webhook", s.WebhookHandler)

	return r
}

// requestLogger 请求日志
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := common.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Truncate(time.Microsecond).String(),
			"ip":      c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("request failed")
		} else {
			entry.Debug("request")
		}
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "600")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// fail 把错误转换成 JSON，非生产环境的 500 附带原始错误
func (s *Server) fail(c *gin.Context, key string, err error) {
	status := common.StatusOf(err)
	body := gin.H{key: false, "error": common.MessageOf(err)}
	if status >= http.StatusInternalServerError {
		common.WithFields(logrus.Fields{"path": c.Request.URL.Path, "error": err}).Error("request error")
		if !s.cfg.IsProduction() {
			body["details"] = err.Error()
		}
	}
	c.JSON(status, body)
}

// reject 业务拒绝，按约定返回 200
func reject(c *gin.Context, key, reason string) {
	c.JSON(http.StatusOK, gin.H{key: false, "error": reason})
}

var errBadBody = common.NewInvalid("Invalid request body")

// parseFID fid 可以是数字或数字字符串，小数向下取整
func parseFID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, common.NewInvalid("fid is required")
	}
	if fid, err := strconv.ParseInt(raw, 10, 64); err == nil && fid > 0 {
		return fid, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f < 1 || f >= math.MaxInt64 {
		return 0, common.NewInvalid("Invalid fid")
	}
	return int64(f), nil
}

func queryFID(c *gin.Context) (int64, error) {
	return parseFID(c.Query("fid"))
}

// bindJSON 绑定失败统一返回 400
func bindJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return errBadBody
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
