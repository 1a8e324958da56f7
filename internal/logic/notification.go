package logic

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
	"basebox-backend/internal/farcaster"
)

// JobReport 定时任务的处理统计
type JobReport struct {
	Checked int `json:"checked"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SweepUnlocked 给到期的胶囊发解锁通知。
// 无论是否发送成功都会标记，每个胶囊只处理一次。
func (s *Server) SweepUnlocked(ctx context.Context) (*JobReport, error) {
	due, err := s.capsules.DueForNotification(ctx)
	if err != nil {
		return nil, fmt.Errorf("list due capsules: %w", err)
	}

	report := &JobReport{Checked: len(due)}
	for _, c := range due {
		log := common.WithFields(logrus.Fields{"capsule_id": c.ID, "fid": c.FID})
		err := s.notifier.Send(ctx, c.FID, farcaster.Notification{
			ID:        "capsule-unlocked-" + c.ID,
			Title:     "Your time capsule is unlocked",
			Body:      "A message from your past self is ready. Open Base Box to reveal it.",
			TargetURL: s.cfg.App.BaseURL,
		})
		switch {
		case err == nil:
			report.Sent++
		case errors.Is(err, farcaster.ErrNotificationsDisabled), errors.Is(err, farcaster.ErrInvalidToken):
			report.Skipped++
		default:
			report.Failed++
			log.WithField("error", err).Warn("unlock notification failed")
		}
		if err := s.capsules.MarkNotified(ctx, c.ID); err != nil {
			log.WithField("error", err).Error("mark capsule notified failed")
		}
	}

	common.WithFields(logrus.Fields{
		"checked": report.Checked,
		"sent":    report.Sent,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	}).Info("unlock sweep finished")
	return report, nil
}

// SendStreakReminders 提醒开启了通知、参加过当前赛季但今天还没打卡的用户
func (s *Server) SendStreakReminders(ctx context.Context) (*JobReport, error) {
	fids, err := s.notifier.Enabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notification subscribers: %w", err)
	}

	report := &JobReport{Checked: len(fids)}
	for _, fid := range fids {
		log := common.WithFields(logrus.Fields{"fid": fid})
		st, err := s.streaks.Status(ctx, fid, "")
		if err != nil {
			report.Failed++
			log.WithField("error", err).Warn("load streak status failed")
			continue
		}
		if st.SeasonEnded || st.ClaimedToday || st.Participation.TotalXP == 0 {
			report.Skipped++
			continue
		}

		body := "Claim today to keep your streak alive."
		if st.Participation.CurrentStreak > 0 {
			body = fmt.Sprintf("You're on a %d day streak. Claim today to keep it going.", st.Participation.CurrentStreak)
		}
		err = s.notifier.Send(ctx, fid, farcaster.Notification{
			ID:        fmt.Sprintf("streak-reminder-%s-%d", st.SeasonID, st.DayIdx),
			Title:     "Don't break your streak",
			Body:      body,
			TargetURL: s.cfg.App.BaseURL,
		})
		switch {
		case err == nil:
			report.Sent++
		case errors.Is(err, farcaster.ErrNotificationsDisabled), errors.Is(err, farcaster.ErrInvalidToken):
			report.Skipped++
		default:
			report.Failed++
			log.WithField("error", err).Warn("streak reminder failed")
		}
	}

	common.WithFields(logrus.Fields{
		"checked": report.Checked,
		"sent":    report.Sent,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	}).Info("streak reminders finished")
	return report, nil
}
