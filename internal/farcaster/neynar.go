// Package farcaster 与 Farcaster 生态交互：Neynar 查询 cast、webhook 事件、mini app 通知。
package farcaster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
)

const castPageSize = 25

// Cast Neynar 返回的 cast，只取需要的字段
type Cast struct {
	Hash      string    `json:"hash"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Embeds    []struct {
		URL string `json:"url"`
	} `json:"embeds"`
}

type castsResponse struct {
	Casts []Cast `json:"casts"`
}

// NeynarClient 检查用户当天是否发过带关键字或应用链接的 cast
type NeynarClient struct {
	baseURL    string
	apiKey     string
	keyword    string
	appURL     string
	httpClient *http.Client
}

func NewNeynarClient(cfg common.FarcasterConfig, appURL string, httpClient *http.Client) *NeynarClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &NeynarClient{
		baseURL:    strings.TrimRight(cfg.NeynarBaseURL, "/"),
		apiKey:     cfg.NeynarAPIKey,
		keyword:    strings.ToLower(cfg.CastKeyword),
		appURL:     strings.ToLower(appURL),
		httpClient: httpClient,
	}
}

// RecentCasts 拉取用户最近的 cast
func (n *NeynarClient) RecentCasts(ctx context.Context, fid int64) ([]Cast, error) {
	q := url.Values{}
	q.Set("fid", strconv.FormatInt(fid, 10))
	q.Set("limit", strconv.Itoa(castPageSize))
	q.Set("include_replies", "true")
	endpoint := n.baseURL + "/v2/farcaster/feed/user/casts?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", n.apiKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("neynar request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read neynar response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("neynar returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed castsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode neynar response: %w", err)
	}
	return parsed.Casts, nil
}

// HasQualifyingCast since 之后的 cast 包含关键字或嵌入了应用链接
func (n *NeynarClient) HasQualifyingCast(ctx context.Context, fid int64, since time.Time) (bool, error) {
	casts, err := n.RecentCasts(ctx, fid)
	if err != nil {
		return false, err
	}
	for _, c := range casts {
		if c.Timestamp.Before(since) {
			continue
		}
		if n.qualifies(c) {
			common.WithFields(logrus.Fields{"fid": fid, "cast": c.Hash}).Debug("qualifying cast found")
			return true, nil
		}
	}
	return false, nil
}

func (n *NeynarClient) qualifies(c Cast) bool {
	text := strings.ToLower(c.Text)
	if n.keyword != "" && strings.Contains(text, n.keyword) {
		return true
	}
	if n.appURL == "" {
		return false
	}
	if strings.Contains(text, n.appURL) {
		return true
	}
	for _, e := range c.Embeds {
		if strings.HasPrefix(strings.ToLower(e.URL), n.appURL) {
			return true
		}
	}
	return false
}

// AllowAll 开发环境跳过 cast 检查
type AllowAll struct{}

func (AllowAll) HasQualifyingCast(context.Context, int64, time.Time) (bool, error) {
	return true, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
