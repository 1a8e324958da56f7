package logic

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"basebox-backend/internal/common"
	"basebox-backend/internal/season"
	"basebox-backend/internal/streak"
)

const (
	liveSendBuffer = 16
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

// liveMessage 推送给排行榜订阅者，type 为 snapshot 或 claim
type liveMessage struct {
	Type        string              `json:"type"`
	SeasonID    string              `json:"seasonId"`
	Leaderboard *streak.Leaderboard `json:"leaderboard,omitempty"`
	Claim       *streak.ClaimEvent  `json:"claim,omitempty"`
}

type liveClient struct {
	conn   *websocket.Conn
	send   chan []byte
	season string
}

// Hub 按赛季分组的实时排行榜连接，实现 streak.Publisher
type Hub struct {
	streaks  *streak.Service
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*liveClient]struct{}
	closed  bool
}

var _ streak.Publisher = (*Hub)(nil)

func NewHub(streaks *streak.Service) *Hub {
	return &Hub{
		streaks: streaks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*liveClient]struct{}),
	}
}

// PublishClaim 非阻塞广播，发送缓冲满的连接直接断开
func (h *Hub) PublishClaim(ev streak.ClaimEvent) {
	msg, err := json.Marshal(liveMessage{Type: "claim", SeasonID: ev.SeasonID, Claim: &ev})
	if err != nil {
		common.WithFields(logrus.Fields{"error": err}).Error("encode live claim failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients[ev.SeasonID] {
		select {
		case cl.send <- msg:
		default:
			h.dropLocked(cl)
		}
	}
}

// Clients 当前赛季的连接数
func (h *Hub) Clients(seasonID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[seasonID])
}

// Close 关闭所有连接，之后的订阅请求被拒绝
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.clients {
		for cl := range set {
			h.dropLocked(cl)
		}
	}
}

func (h *Hub) register(cl *liveClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[cl.season]
	if !ok {
		set = make(map[*liveClient]struct{})
		h.clients[cl.season] = set
	}
	set[cl] = struct{}{}
	return true
}

func (h *Hub) unregister(cl *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(cl)
}

// dropLocked 调用方持有 h.mu；send 只在这里关闭
func (h *Hub) dropLocked(cl *liveClient) {
	set, ok := h.clients[cl.season]
	if !ok {
		return
	}
	if _, ok := set[cl]; !ok {
		return
	}
	delete(set, cl)
	close(cl.send)
	if len(set) == 0 {
		delete(h.clients, cl.season)
	}
}

// serve 升级连接、先发当前榜单快照，然后阻塞读直到连接断开
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, seasonID string) error {
	snapshot, err := h.streaks.Leaderboard(r.Context(), seasonID, 0, 0)
	if err != nil {
		return err
	}
	first, err := json.Marshal(liveMessage{Type: "snapshot", SeasonID: seasonID, Leaderboard: snapshot})
	if err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写了错误响应
		common.WithFields(logrus.Fields{"error": err}).Debug("live leaderboard upgrade failed")
		return nil
	}

	cl := &liveClient{conn: conn, send: make(chan []byte, liveSendBuffer), season: seasonID}
	cl.send <- first
	if !h.register(cl) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(liveWriteWait))
		conn.Close()
		return nil
	}
	common.WithFields(logrus.Fields{"season": seasonID, "clients": h.Clients(seasonID)}).Debug("live leaderboard subscribed")

	go h.writeLoop(cl)
	h.readLoop(cl)
	return nil
}

func (h *Hub) writeLoop(cl *liveClient) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop 只处理 pong 和关闭帧，客户端发来的数据忽略
func (h *Hub) readLoop(cl *liveClient) {
	defer h.unregister(cl)
	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(livePongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// LiveLeaderboardHandler websocket 推送打卡事件
func (s *Server) LiveLeaderboardHandler(c *gin.Context) {
	sn, err := s.streaks.Calendar().Lookup(c.Query("seasonId"))
	if errors.Is(err, season.ErrUnknownSeason) {
		s.fail(c, keyOK, common.NewInvalid("Unknown season"))
		return
	}
	if err != nil {
		s.fail(c, keyOK, err)
		return
	}
	if err := s.hub.serve(c.Writer, c.Request, sn.ID); err != nil {
		s.fail(c, keyOK, err)
	}
}

// Shutdown 关闭实时连接
func (s *Server) Shutdown() {
	s.hub.Close()
}
