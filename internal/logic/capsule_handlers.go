package logic

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"basebox-backend/internal/capsule"
	"basebox-backend/internal/common"
)

// 请求体上限：base64 后的图片加上其余字段
const bodySlack = 64 * 1024

type createCapsuleRequest struct {
	FID       json.Number `json:"fid"`
	Message   string      `json:"message"`
	Duration  json.Number `json:"duration"`
	Image     string      `json:"image"`
	ImageType string      `json:"imageType"`
}

type revealRequest struct {
	FID       json.Number `json:"fid"`
	CapsuleID string      `json:"capsuleId"`
}

func (s *Server) maxCreateBody() int64 {
	return int64(s.cfg.Capsule.MaxImageBytes)/3*4 + bodySlack
}

// CreateCapsuleHandler 创建时间胶囊
func (s *Server) CreateCapsuleHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxCreateBody())

	var req createCapsuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, keySuccess, common.NewInvalid("Request body is too large"))
			return
		}
		s.fail(c, keySuccess, errBadBody)
		return
	}
	fid, err := parseFID(req.FID.String())
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	duration, err := parseDuration(req.Duration)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}

	res, err := s.capsules.Create(c.Request.Context(), capsule.CreateInput{
		FID:       fid,
		Message:   req.Message,
		Duration:  duration,
		Image:     req.Image,
		ImageType: req.ImageType,
	})
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		keySuccess:     true,
		"capsule":      res.Capsule.ToView(s.capsules.Now(), false),
		"achievements": nonNil(res.Achievements),
	})
}

func parseDuration(n json.Number) (float64, error) {
	raw := strings.TrimSpace(n.String())
	if raw == "" {
		return 0, common.NewInvalid("Duration is required")
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, common.NewInvalid("Duration must be a positive number of days")
	}
	return d, nil
}

// ListCapsulesHandler 用户自己的胶囊，新的在前
func (s *Server) ListCapsulesHandler(c *gin.Context) {
	fid, err := queryFID(c)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	capsules, err := s.capsules.List(c.Request.Context(), fid)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		keySuccess: true,
		"capsules": capsule.Views(capsules, s.capsules.Now(), true),
	})
}

// CapsuleStatsHandler 不带 fid 时为全站统计
func (s *Server) CapsuleStatsHandler(c *gin.Context) {
	var fid int64
	if c.Query("fid") != "" {
		var err error
		if fid, err = queryFID(c); err != nil {
			s.fail(c, keySuccess, err)
			return
		}
	}
	st, err := s.capsules.Stats(c.Request.Context(), fid)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{keySuccess: true, "stats": st})
}

func (s *Server) GetCapsuleHandler(c *gin.Context) {
	fid, err := queryFID(c)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	cp, err := s.capsules.Get(c.Request.Context(), fid, c.Param("id"))
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{keySuccess: true, "capsule": cp.ToView(s.capsules.Now(), true)})
}

// CapsuleImageHandler 解锁后返回图片原始字节
func (s *Server) CapsuleImageHandler(c *gin.Context) {
	data, imageType, err := s.capsules.Image(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, imageType, data)
}

// RevealCapsuleHandler 用户揭晓已到期的胶囊
func (s *Server) RevealCapsuleHandler(c *gin.Context) {
	var req revealRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	fid, err := parseFID(req.FID.String())
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	if strings.TrimSpace(req.CapsuleID) == "" {
		s.fail(c, keySuccess, common.NewInvalid("capsuleId is required"))
		return
	}
	res, err := s.capsules.Reveal(c.Request.Context(), fid, req.CapsuleID)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		keySuccess:     true,
		"capsule":      res.Capsule.ToView(s.capsules.Now(), false),
		"achievements": nonNil(res.Achievements),
	})
}
