package farcaster

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
)

// HandleEvent 根据生命周期事件保存或删除通知地址，开启时发一条欢迎通知
func (n *Notifier) HandleEvent(ctx context.Context, ev *Event) error {
	log := common.WithFields(logrus.Fields{"fid": ev.FID, "event": ev.Type})
	switch {
	case ev.Enables():
		if err := n.SaveDetails(ctx, ev.FID, *ev.Details); err != nil {
			return fmt.Errorf("save notification details: %w", err)
		}
		log.Info("notifications enabled")
		welcome := Notification{
			ID:    fmt.Sprintf("welcome-%d", ev.FID),
			Title: "Welcome to Base Box",
			Body:  "Lock a message for the future and keep your daily streak going.",
		}
		if err := n.Send(ctx, ev.FID, welcome); err != nil {
			log.WithField("error", err).Warn("welcome notification failed")
		}
	case ev.Disables():
		if err := n.DropDetails(ctx, ev.FID); err != nil {
			return fmt.Errorf("drop notification details: %w", err)
		}
		log.Info("notifications disabled")
	default:
		log.Info("webhook event without notification details")
	}
	return nil
}
