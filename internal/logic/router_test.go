package logic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basebox-backend/internal/common"
	"basebox-backend/internal/farcaster"
	"basebox-backend/internal/kv"
	"basebox-backend/internal/kv/kvtest"
	"basebox-backend/internal/referral"
	"basebox-backend/internal/streak"
)

const (
	adminPassword = "s3cret"
	pngBase64     = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubEligibility 只有列表里的 fid 发过符合条件的 cast
type stubEligibility struct {
	mu      sync.Mutex
	allowed map[int64]bool
}

func (s *stubEligibility) allow(fids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fid := range fids {
		s.allowed[fid] = true
	}
}

func (s *stubEligibility) HasQualifyingCast(_ context.Context, fid int64, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed[fid], nil
}

type testEnv struct {
	server *Server
	router *gin.Engine
	store  kv.Store
	mr     *miniredis.Miniredis
	clock  *testClock
	elig   *stubEligibility
}

func testConfig() *common.Config {
	return &common.Config{
		Env:   common.EnvDevelopment,
		Admin: common.AdminConfig{Password: adminPassword, SessionTTL: time.Hour},
		Season: common.SeasonConfig{
			DefaultID: "season_1",
			Seasons: []common.SeasonSpec{
				{ID: "season_0", Start: "2025-01-01T00:00:00Z", Days: 30},
				{ID: "season_1", Start: "2025-11-01T00:00:00Z"},
			},
		},
		Streak:  common.StreakConfig{XPPerClaim: 10, ClaimGuardTTL: 72 * time.Hour},
		Capsule: common.CapsuleConfig{MaxMessageChars: 1000, MaxImageBytes: 5 << 20, MaxDurationDays: 3650},
		App:     common.AppConfig{BaseURL: "https://basebox.example", Name: common.AppName},
		Chain: common.ChainConfig{
			ChainID:         8453,
			ContractAddress: "0x52908400098527886e0f7030069857d2e4169ee7",
		},
		Scheduler: common.SchedulerConfig{Enabled: true},
	}
}

// 设置测试环境
func setupTestEnv(t *testing.T, mutate ...func(*common.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	store, mr := kvtest.NewRedis(t)
	clock := &testClock{now: time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)}
	elig := &stubEligibility{allowed: map[int64]bool{}}

	srv, err := NewServer(cfg, store, Options{Eligibility: elig, Now: clock.Now})
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	return &testEnv{server: srv, router: srv.SetupRouter(), store: store, mr: mr, clock: clock, elig: elig}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/api/admin/auth", gin.H{"password": adminPassword}, "")
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := resp["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (e *testEnv) createCapsule(t *testing.T, body gin.H) string {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/api/capsules/create", body, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return resp["capsule"].(map[string]interface{})["id"].(string)
}

// 测试健康检查接口
func TestPingHandler(t *testing.T) {
	env := setupTestEnv(t)
	w, resp := env.do(t, http.MethodGet, "/ping", nil, "")
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "pong", resp["message"])
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestEnv(t)
	w, _ := env.do(t, http.MethodOptions, "/api/capsules/create", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// 创建 -> 列表 -> 管理员揭晓 -> 统计变化
func TestParseFID(t *testing.T) {
	for raw, want := range map[string]int64{
		"42":                  42,
		" 7 ":                 7,
		"3.9":                 3,
		"9223372036854775807": 9223372036854775807,
	} {
		fid, err := parseFID(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, fid, raw)
	}

	// 超出 int64 的值不能回绕成负数
	for _, raw := range []string{"", "0", "-5", "0.5", "abc", "NaN", "9223372036854775808", "1e19"} {
		_, err := parseFID(raw)
		assert.True(t, common.IsCode(err, common.CodeInvalid), raw)
	}
}

func TestCapsuleEndToEnd(t *testing.T) {
	env := setupTestEnv(t)
	id := env.createCapsule(t, gin.H{"fid": 3, "message": "hello", "duration": 1})
	assert.True(t, strings.HasPrefix(id, "3-"))

	w, resp := env.do(t, http.MethodGet, "/api/capsules/list?fid=3", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	capsules := resp["capsules"].([]interface{})
	require.Len(t, capsules, 1)
	first := capsules[0].(map[string]interface{})
	assert.Equal(t, id, first["id"])
	assert.Equal(t, false, first["revealed"])
	assert.NotContains(t, first, "message", "锁定中的内容不返回")
	assert.NotContains(t, first, "image")

	token := env.adminToken(t)
	w, resp = env.do(t, http.MethodGet, "/api/admin/capsules", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	stats := resp["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["lockedCapsules"])
	assert.Equal(t, float64(0), stats["revealedCapsules"])

	w, resp = env.do(t, http.MethodPost, "/api/admin/capsules/reveal", gin.H{"capsuleId": id}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])

	w, resp = env.do(t, http.MethodGet, "/api/admin/capsules", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	stats = resp["stats"].(map[string]interface{})
	assert.Equal(t, float64(0), stats["lockedCapsules"])
	assert.Equal(t, float64(1), stats["revealedCapsules"])
	listed := resp["capsules"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, true, listed["revealed"])
	assert.Equal(t, "hello", listed["message"])

	w, resp = env.do(t, http.MethodPost, "/api/admin/capsules/reveal", gin.H{"capsuleId": id}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Capsule already revealed", resp["error"])

	w, _ = env.do(t, http.MethodPost, "/api/admin/capsules/delete", gin.H{"capsuleId": id}, token)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodPost, "/api/admin/capsules/delete", gin.H{"capsuleId": id}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, resp = env.do(t, http.MethodGet, "/api/capsules/list?fid=3", nil, "")
	assert.Empty(t, resp["capsules"])
}

func TestCreateCapsuleValidation(t *testing.T) {
	env := setupTestEnv(t)
	cases := []struct {
		name string
		body interface{}
		want string
	}{
		{"missing fid", gin.H{"message": "hi", "duration": 1}, "fid is required"},
		{"bad fid", gin.H{"fid": "abc", "message": "hi", "duration": 1}, "Invalid request body"},
		{"empty message", gin.H{"fid": 1, "message": "   ", "duration": 1}, "Message is required"},
		{"zero duration", gin.H{"fid": 1, "message": "hi", "duration": 0}, "Duration must be a positive number of days"},
		{"missing duration", gin.H{"fid": 1, "message": "hi"}, "Duration is required"},
		{"long message", gin.H{"fid": 1, "message": strings.Repeat("x", 1001), "duration": 1}, "Message must be at most 1000 characters"},
		{"not json", "{", "Invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := env.do(t, http.MethodPost, "/api/capsules/create", tc.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, resp["success"])
			assert.Equal(t, tc.want, resp["error"])
		})
	}

	// fid 和 duration 也接受字符串
	id := env.createCapsule(t, gin.H{"fid": "9", "message": "string fields", "duration": "0.5"})
	assert.True(t, strings.HasPrefix(id, "9-"))
}

func TestCapsuleImageAndUserReveal(t *testing.T) {
	env := setupTestEnv(t)
	id := env.createCapsule(t, gin.H{
		"fid": 5, "message": "with picture", "duration": 1,
		"image": "data:image/png;base64," + pngBase64, "imageType": "image/png",
	})

	w, _ := env.do(t, http.MethodGet, "/api/capsules/"+id+"?fid=6", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "只有本人能查看")

	w, resp := env.do(t, http.MethodGet, "/api/capsules/"+id+"?fid=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	cp := resp["capsule"].(map[string]interface{})
	assert.Equal(t, true, cp["hasImage"])
	assert.Equal(t, true, cp["locked"])
	assert.NotContains(t, cp, "message")

	w, _ = env.do(t, http.MethodGet, "/api/capsules/"+id+"/image", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = env.do(t, http.MethodPost, "/api/capsules/reveal", gin.H{"fid": 5, "capsuleId": id}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Capsule is still locked", resp["error"])

	env.clock.Advance(25 * time.Hour)

	w, _ = env.do(t, http.MethodGet, "/api/capsules/"+id+"/image", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())

	w, resp = env.do(t, http.MethodPost, "/api/capsules/reveal", gin.H{"fid": 5, "capsuleId": id}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "with picture", resp["capsule"].(map[string]interface{})["message"])
	assert.Contains(t, resp["achievements"], "first_reveal")

	w, resp = env.do(t, http.MethodPost, "/api/capsules/reveal", gin.H{"fid": 5, "capsuleId": id}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Capsule already revealed", resp["error"])

	w, resp = env.do(t, http.MethodGet, "/api/capsules/stats?fid=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := resp["stats"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["revealedCapsules"])
	assert.Equal(t, float64(1), stats["capsulesWithImages"])
}

func TestClaimWithoutQualifyingCast(t *testing.T) {
	env := setupTestEnv(t)
	w, resp := env.do(t, http.MethodPost, "/api/check-and-claim", gin.H{"fid": 42, "seasonId": "season_1"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": false, "error": "No qualifying cast found"}, resp)

	_, exists, err := env.store.Get(context.Background(), kv.ParticipationKey("season_1", 42))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClaimFlow(t *testing.T) {
	env := setupTestEnv(t)
	env.elig.allow(7, 8)

	w, resp := env.do(t, http.MethodPost, "/api/check-and-claim", gin.H{"fid": 7}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, float64(10), resp["points"])
	assert.Equal(t, float64(1), resp["currentStreak"])
	assert.Equal(t, float64(10), resp["totalXp"])
	assert.Equal(t, "season_1", resp["seasonId"])
	assert.Equal(t, float64(9), resp["dayIdx"])
	assert.Equal(t, []interface{}{}, resp["grantedBadges"])
	assert.Contains(t, resp["achievements"], "streak_1")

	_, resp = env.do(t, http.MethodPost, "/api/claim", gin.H{"fid": 7}, "")
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, streak.ReasonAlreadyClaimed, resp["error"])

	env.clock.Advance(24 * time.Hour)
	_, resp = env.do(t, http.MethodPost, "/api/claim", gin.H{"fid": "7"}, "")
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, float64(2), resp["currentStreak"])
	assert.Equal(t, float64(20), resp["totalXp"])

	_, resp = env.do(t, http.MethodPost, "/api/claim", gin.H{"fid": 8}, "")
	require.Equal(t, true, resp["ok"])

	w, resp = env.do(t, http.MethodGet, "/api/streak?fid=7", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["claimedToday"])
	assert.Equal(t, float64(20), resp["participation"].(map[string]interface{})["totalXp"])

	w, resp = env.do(t, http.MethodGet, "/api/leaderboard?seasonId=season_1&limit=abc&fid=8", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	items := resp["items"].([]interface{})
	require.Len(t, items, 2)
	top := items[0].(map[string]interface{})
	assert.Equal(t, float64(1), top["rank"])
	assert.Equal(t, float64(7), top["fid"])
	me := resp["me"].(map[string]interface{})
	assert.Equal(t, float64(2), me["rank"])

	w, resp = env.do(t, http.MethodGet, "/api/leaderboard?limit=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["items"], 1)
	assert.NotContains(t, resp, "me")
}

func TestClaimRejections(t *testing.T) {
	env := setupTestEnv(t)
	env.elig.allow(1)

	w, resp := env.do(t, http.MethodPost, "/api/check-and-claim", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "fid is required", resp["error"])

	w, resp = env.do(t, http.MethodPost, "/api/check-and-claim", gin.H{"fid": 1, "seasonId": "season_9"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Unknown season", resp["error"])

	w, resp = env.do(t, http.MethodPost, "/api/check-and-claim", gin.H{"fid": 1, "seasonId": "season_0"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, streak.ReasonSeasonEnded, resp["error"])

	w, _ = env.do(t, http.MethodGet, "/api/streak", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminAuth(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/admin/capsules", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, map[string]interface{}{"success": false, "error": "Unauthorized"}, resp)

	w, _ = env.do(t, http.MethodGet, "/api/admin/capsules", nil, "made-up")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp = env.do(t, http.MethodPost, "/api/admin/auth", gin.H{"password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid password", resp["error"])

	token := env.adminToken(t)
	w, _ = env.do(t, http.MethodGet, "/api/admin/capsules", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = env.do(t, http.MethodPost, "/api/admin/capsules/reveal", gin.H{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "capsuleId is required", resp["error"])

	// token 过期后失效
	env.mr.FastForward(2 * time.Hour)
	w, _ = env.do(t, http.MethodGet, "/api/admin/capsules", nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthNotConfigured(t *testing.T) {
	env := setupTestEnv(t, func(cfg *common.Config) { cfg.Admin.Password = "" })
	w, resp := env.do(t, http.MethodPost, "/api/admin/auth", gin.H{"password": ""}, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, resp["success"])
}

func TestReferralAndAchievements(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/referral/code", gin.H{"fid": 1}, "")
	require.Equal(t, http.StatusOK, w.Code)
	code := resp["code"].(string)
	require.Len(t, code, 8)

	_, resp = env.do(t, http.MethodPost, "/api/referral/code", gin.H{"fid": 1}, "")
	assert.Equal(t, code, resp["code"], "重复请求返回同一个码")

	_, resp = env.do(t, http.MethodPost, "/api/referral/redeem", gin.H{"fid": 1, "code": code}, "")
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, referral.ReasonSelfReferral, resp["error"])

	w, resp = env.do(t, http.MethodPost, "/api/referral/redeem", gin.H{"fid": 2, "code": strings.ToLower(code)}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(1), resp["referrer"])
	assert.Contains(t, resp["achievements"], "recruiter")

	w, resp = env.do(t, http.MethodPost, "/api/referral/redeem", gin.H{"fid": 2, "code": code}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, referral.ReasonAlreadyReferred, resp["error"])

	_, resp = env.do(t, http.MethodPost, "/api/referral/redeem", gin.H{"fid": 3, "code": "NOPE1234"}, "")
	assert.Equal(t, referral.ReasonInvalidCode, resp["error"])

	_, resp = env.do(t, http.MethodGet, "/api/referral?fid=1", nil, "")
	ref := resp["referral"].(map[string]interface{})
	assert.Equal(t, code, ref["code"])
	assert.Equal(t, float64(1), ref["referrals"])

	w, resp = env.do(t, http.MethodGet, "/api/achievements?fid=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["unlocked"])
	for _, raw := range resp["achievements"].([]interface{}) {
		item := raw.(map[string]interface{})
		assert.Equal(t, item["id"] == "recruiter", item["unlocked"], item["id"])
	}

	w, _ = env.do(t, http.MethodGet, "/api/achievements", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNFTMetadata(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.do(t, http.MethodGet, "/api/nft/contract", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", resp["contract"])
	assert.Equal(t, float64(8453), resp["chain_id"])

	w, _ = env.do(t, http.MethodGet, "/api/nft/not-an-id", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = env.do(t, http.MethodGet, "/api/nft/5-1700000000000", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	id := env.createCapsule(t, gin.H{"fid": 5, "message": "for the chain", "duration": 2})
	w, _ = env.do(t, http.MethodGet, "/api/nft/"+id, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code, "锁定中不返回元数据")

	env.clock.Advance(49 * time.Hour)
	w, resp = env.do(t, http.MethodGet, "/api/nft/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "for the chain", resp["description"])
	assert.NotEmpty(t, resp["name"])
	assert.NotEmpty(t, resp["attributes"])
}

func TestWebhook(t *testing.T) {
	env := setupTestEnv(t)
	var received int
	var mu sync.Mutex
	notify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"successfulTokens":["tok"],"invalidTokens":[],"rateLimitedTokens":[]}}`))
	}))
	defer notify.Close()

	w, resp := env.do(t, http.MethodPost, "/api/webhook", "not json", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])

	body := webhookBody(t, 11, farcaster.EventMiniAppAdded, &farcaster.NotificationDetails{URL: notify.URL, Token: "tok"})
	w, resp = env.do(t, http.MethodPost, "/api/webhook", body, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])

	ctx := context.Background()
	on, err := env.store.SIsMember(ctx, kv.NotificationsEnabledKey, "11")
	require.NoError(t, err)
	assert.True(t, on)
	mu.Lock()
	assert.Equal(t, 1, received, "开启通知后发送欢迎消息")
	mu.Unlock()

	body = webhookBody(t, 11, farcaster.EventMiniAppRemoved, nil)
	w, _ = env.do(t, http.MethodPost, "/api/webhook", body, "")
	require.Equal(t, http.StatusOK, w.Code)
	on, err = env.store.SIsMember(ctx, kv.NotificationsEnabledKey, "11")
	require.NoError(t, err)
	assert.False(t, on)
}

func webhookBody(t *testing.T, fid int64, event string, details *farcaster.NotificationDetails) string {
	t.Helper()
	header, err := farcaster.EncodeSegment(map[string]interface{}{"fid": fid, "type": "app_key", "key": "0xabc"})
	require.NoError(t, err)
	p := map[string]interface{}{"event": event}
	if details != nil {
		p["notificationDetails"] = details
	}
	payload, err := farcaster.EncodeSegment(p)
	require.NoError(t, err)
	raw, err := json.Marshal(farcaster.SignedMessage{Header: header, Payload: payload, Signature: "sig"})
	require.NoError(t, err)
	return string(raw)
}

func TestLiveLeaderboard(t *testing.T) {
	env := setupTestEnv(t)
	env.elig.allow(21)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	w, resp := env.do(t, http.MethodGet, "/api/leaderboard/live?seasonId=season_9", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Unknown season", resp["error"])

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/leaderboard/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg liveMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, "season_1", msg.SeasonID)
	require.NotNil(t, msg.Leaderboard)
	assert.Empty(t, msg.Leaderboard.Items)
	assert.Equal(t, 1, env.server.Hub().Clients("season_1"))

	_, resp = env.do(t, http.MethodPost, "/api/check-and-claim", gin.H{"fid": 21}, "")
	require.Equal(t, true, resp["ok"])

	msg = liveMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "claim", msg.Type)
	require.NotNil(t, msg.Claim)
	assert.Equal(t, int64(21), msg.Claim.FID)
	assert.Equal(t, 10, msg.Claim.TotalXP)
	assert.Equal(t, 1, msg.Claim.Rank)

	env.server.Hub().Close()
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "关闭后连接断开")
	assert.Equal(t, 0, env.server.Hub().Clients("season_1"))
}
