package logic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basebox-backend/internal/common"
	"basebox-backend/internal/farcaster"
)

// notificationSink 记录收到的通知 id
type notificationSink struct {
	mu  sync.Mutex
	ids []string
}

func (s *notificationSink) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			NotificationID string   `json:"notificationId"`
			Tokens         []string `json:"tokens"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.mu.Lock()
		s.ids = append(s.ids, req.NotificationID)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string][]string{
			"successfulTokens":  req.Tokens,
			"invalidTokens":     {},
			"rateLimitedTokens": {},
		}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *notificationSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// 测试解锁通知：只通知开启了通知的用户，每个胶囊只处理一次
func TestSweepUnlocked(t *testing.T) {
	env := setupTestEnv(t)
	sink := &notificationSink{}
	srv := sink.server(t)
	ctx := context.Background()

	require.NoError(t, env.server.notifier.SaveDetails(ctx, 3, farcaster.NotificationDetails{URL: srv.URL, Token: "tok-3"}))
	subscribed := env.createCapsule(t, gin.H{"fid": 3, "message": "to future me", "duration": 1})
	env.createCapsule(t, gin.H{"fid": 4, "message": "nobody listening", "duration": 1})
	env.createCapsule(t, gin.H{"fid": 3, "message": "still locked", "duration": 30})

	report, err := env.server.SweepUnlocked(ctx)
	require.NoError(t, err)
	assert.Equal(t, &JobReport{}, report, "还没有到期的胶囊")

	env.clock.Advance(25 * time.Hour)
	report, err = env.server.SweepUnlocked(ctx)
	require.NoError(t, err)
	assert.Equal(t, &JobReport{Checked: 2, Sent: 1, Skipped: 1}, report)
	assert.Equal(t, []string{"capsule-unlocked-" + subscribed}, sink.received())

	report, err = env.server.SweepUnlocked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked, "已标记的不再处理")

	cp, err := env.server.capsules.Find(ctx, subscribed)
	require.NoError(t, err)
	require.NotNil(t, cp.UnlockNotifiedAt)
	assert.False(t, cp.Revealed, "通知不改变揭晓状态")
}

// 测试打卡提醒：今天已打卡和从未参加的用户不提醒
func TestSendStreakReminders(t *testing.T) {
	env := setupTestEnv(t)
	sink := &notificationSink{}
	srv := sink.server(t)
	ctx := context.Background()
	env.elig.allow(1, 2)

	for _, fid := range []int64{1, 2, 3} {
		require.NoError(t, env.server.notifier.SaveDetails(ctx, fid, farcaster.NotificationDetails{URL: srv.URL, Token: "tok"}))
	}

	_, resp := env.do(t, http.MethodPost, "/api/claim", gin.H{"fid": 1}, "")
	require.Equal(t, true, resp["ok"])
	env.clock.Advance(24 * time.Hour)
	_, resp = env.do(t, http.MethodPost, "/api/claim", gin.H{"fid": 2}, "")
	require.Equal(t, true, resp["ok"])

	report, err := env.server.SendStreakReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, &JobReport{Checked: 3, Sent: 1, Skipped: 2}, report)
	assert.Equal(t, []string{"streak-reminder-season_1-10"}, sink.received())
}

func TestSchedulerRegistersJobs(t *testing.T) {
	env := setupTestEnv(t)

	s := NewScheduler(env.server, common.SchedulerConfig{Enabled: true})
	require.NoError(t, s.Start())
	assert.Equal(t, 2, s.Entries())
	s.Stop()

	bad := NewScheduler(env.server, common.SchedulerConfig{Enabled: true, UnlockCron: "not a cron"})
	assert.Error(t, bad.Start())
}
