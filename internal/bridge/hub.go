package bridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradewire/pkg/logger"
)

// websocket推送：执行器保持一条长连接，有新指令时收到提醒后来拉取
// 推送只是降低轮询延迟的提示，丢了也不影响正确性

type notice struct {
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
}

type Hub struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*websocket.Conn)}
}

// Attach 注册执行器连接，同一执行器的旧连接被顶掉
func (h *Hub) Attach(executorID string, conn *websocket.Conn) {
	h.mu.Lock()
	if old, ok := h.conns[executorID]; ok {
		_ = old.Close()
	}
	h.conns[executorID] = conn
	h.mu.Unlock()
	logger.Info("执行器连接建立", logger.Pair("executor", executorID))
}

// Detach 移除连接（只移除当前持有的那条）
func (h *Hub) Detach(executorID string, conn *websocket.Conn) {
	h.mu.Lock()
	if cur, ok := h.conns[executorID]; ok && cur == conn {
		delete(h.conns, executorID)
	}
	h.mu.Unlock()
	logger.Info("执行器连接断开", logger.Pair("executor", executorID))
}

// Notify 提示执行器有新指令；executorID为空时广播
func (h *Hub) Notify(executorID string) {
	msg := notice{Event: "command_ready", Timestamp: time.Now().UnixMilli()}

	h.mu.Lock()
	var targets []*websocket.Conn
	if executorID == "" {
		for _, c := range h.conns {
			targets = append(targets, c)
		}
	} else if c, ok := h.conns[executorID]; ok {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		_ = c.SetWriteDeadline(time.Now().Add(3 * time.Second))
		if err := c.WriteJSON(msg); err != nil {
			logger.Debug("推送提醒失败", logger.Pair("err", err.Error()))
		}
	}
}

// Online 当前在线连接数
func (h *Hub) Online() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
