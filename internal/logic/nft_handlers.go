package logic

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"basebox-backend/internal/capsule"
	"basebox-backend/internal/common"
	"basebox-backend/internal/farcaster"
)

const maxWebhookBody = 64 * 1024

// ContractMetadataHandler 合约级元数据
func (s *Server) ContractMetadataHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.nft.Contract())
}

// CapsuleMetadataHandler 单个胶囊的 NFT 元数据，未解锁时不返回
func (s *Server) CapsuleMetadataHandler(c *gin.Context) {
	id := c.Param("capsuleId")
	if _, _, ok := capsule.ParseID(id); !ok {
		s.fail(c, keySuccess, common.NewInvalid("Invalid capsule id"))
		return
	}
	cp, err := s.capsules.Find(c.Request.Context(), id)
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	md, err := s.nft.Capsule(cp, s.capsules.Now())
	if err != nil {
		s.fail(c, keySuccess, err)
		return
	}
	c.JSON(http.StatusOK, md)
}

// WebhookHandler Farcaster 小程序生命周期事件
func (s *Server) WebhookHandler(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		s.fail(c, keySuccess, errBadBody)
		return
	}
	ev, err := farcaster.ParseEvent(body)
	if err != nil {
		common.WithFields(logrus.Fields{"error": err}).Warn("malformed webhook event")
		s.fail(c, keySuccess, common.NewInvalid("Invalid webhook payload"))
		return
	}
	if err := s.notifier.HandleEvent(c.Request.Context(), ev); err != nil {
		s.fail(c, keySuccess, common.NewInternal("Failed to process webhook", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{keySuccess: true})
}
