package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agents-eval/internal/apiserver/run"
	"agents-eval/internal/shared/eventbus"
	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// upgrader WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventGateway Run 生命周期事件网关
//
// 连接建立后先订阅事件总线，再回放历史事件，按 seq 去重，
// 因此订阅与回放之间产生的事件不会丢失也不会重复。
// 收到终止事件（run.completed / run.error）后推送状态消息并关闭连接。
type EventGateway struct {
	runs      run.RunService
	bus       eventbus.RunEventBus
	metrics   *Metrics
	pingEvery time.Duration
}

// NewEventGateway 创建事件网关实例
func NewEventGateway(runs run.RunService, bus eventbus.RunEventBus, metrics *Metrics) *EventGateway {
	return &EventGateway{runs: runs, bus: bus, metrics: metrics, pingEvery: wsPingPeriod}
}

// wsConn 串行化写操作，gorilla 连接不支持并发写
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/runs/{id}/events
//
// 查询参数：
//   - from_seq: 只推送 seq 大于该值的事件，用于断线重连
//
// 推送消息格式：
//
//	事件消息：{"type": "event", "data": {...}}
//	状态消息：{"type": "status", "data": {"status": "completed", "run_id": "..."}}
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
func (g *EventGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	fromSeq, _ := strconv.Atoi(r.URL.Query().Get("from_seq"))

	current, err := g.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.Printf("[ws.run.load.failed] run_id=%s error=%v", runID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws.upgrade.failed] run_id=%s error=%v", runID, err)
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	if g.metrics != nil {
		g.metrics.WSConnectionOpened()
		defer g.metrics.WSConnectionClosed()
	}
	log.Printf("[ws.connected] run_id=%s from_seq=%d", runID, fromSeq)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.readPump(conn, cancel)

	g.stream(ctx, conn, current, fromSeq)
}

// stream 订阅、回放、持续推送
func (g *EventGateway) stream(ctx context.Context, conn *wsConn, current *model.Run, fromSeq int) {
	runID := current.ID

	eventCh, err := g.bus.SubscribeRunEvents(ctx, runID)
	if err != nil {
		log.Printf("[ws.subscribe.failed] run_id=%s error=%v", runID, err)
		return
	}

	lastSeq := fromSeq
	history, err := g.bus.GetRunEvents(ctx, runID, 0)
	if err != nil {
		log.Printf("[ws.history.failed] run_id=%s error=%v", runID, err)
	}
	for _, event := range history {
		if event.Seq <= lastSeq {
			continue
		}
		done, err := g.push(conn, event)
		if err != nil || done {
			return
		}
		lastSeq = event.Seq
	}

	// 已结束但历史中没有终止事件（事件已过期或 Run 先于总线创建）
	if current.IsTerminal() {
		g.sendStatus(conn, runID, string(current.Status))
		return
	}

	pingTicker := time.NewTicker(g.pingEvery)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			done, err := g.push(conn, event)
			if err != nil || done {
				return
			}
			lastSeq = event.Seq
		}
	}
}

// push 推送单个事件，终止事件之后追加状态消息
func (g *EventGateway) push(conn *wsConn, event *eventbus.RunEvent) (bool, error) {
	if err := conn.writeJSON(map[string]interface{}{"type": "event", "data": event}); err != nil {
		log.Printf("[ws.write.failed] run_id=%s seq=%d error=%v", event.RunID, event.Seq, err)
		return false, err
	}
	if g.metrics != nil {
		g.metrics.RecordWSMessage("out", event.Type)
	}
	if !event.IsFinal() {
		return false, nil
	}
	status := model.RunStatusCompleted
	if event.Type == eventbus.EventRunError {
		status = model.RunStatusError
	}
	g.sendStatus(conn, event.RunID, string(status))
	return true, nil
}

func (g *EventGateway) sendStatus(conn *wsConn, runID, status string) {
	conn.writeJSON(map[string]interface{}{
		"type": "status",
		"data": map[string]string{"status": status, "run_id": runID},
	})
}

// readPump 读取客户端消息，连接断开时取消上下文
func (g *EventGateway) readPump(conn *wsConn, cancel context.CancelFunc) {
	defer cancel()
	raw := conn.conn
	raw.SetReadLimit(512)
	raw.SetReadDeadline(time.Now().Add(wsPongWait))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, msg, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws.read.failed] error=%v", err)
			}
			return
		}

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil && req["type"] == "ping" {
			raw.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.writeJSON(map[string]string{"type": "pong"})
			if g.metrics != nil {
				g.metrics.RecordWSMessage("in", "ping")
			}
		}
	}
}
