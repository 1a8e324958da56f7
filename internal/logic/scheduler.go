package logic

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
)

const jobTimeout = 5 * time.Minute

// Scheduler 胶囊解锁通知和打卡提醒，cron 表达式带秒
type Scheduler struct {
	cron   *cron.Cron
	server *Server
	cfg    common.SchedulerConfig
}

func NewScheduler(server *Server, cfg common.SchedulerConfig) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		server: server,
		cfg:    cfg,
	}
}

// Start 注册任务并启动
func (s *Scheduler) Start() error {
	unlock := s.cfg.UnlockCron
	if unlock == "" {
		unlock = common.DefaultUnlockCron
	}
	reminder := s.cfg.ReminderCron
	if reminder == "" {
		reminder = common.DefaultReminderCron
	}

	if _, err := s.cron.AddFunc(unlock, s.runJob("unlock-sweep", s.server.SweepUnlocked)); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(reminder, s.runJob("streak-reminder", s.server.SendStreakReminders)); err != nil {
		return err
	}

	s.cron.Start()
	common.WithFields(logrus.Fields{"unlock_cron": unlock, "reminder_cron": reminder}).Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	common.Info("scheduler stopped")
}

// Entries 已注册的任务数
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) runJob(name string, job func(context.Context) (*JobReport, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if _, err := job(ctx); err != nil {
			common.WithFields(logrus.Fields{"job": name, "error": err}).Error("scheduled job failed")
		}
	}
}
