package stream

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradewire/internal/bridge"
	"tradewire/internal/consts"
	"tradewire/pkg/logger"
	"tradewire/pkg/response"
)

// 执行器长连接：升级websocket后挂进hub，收新指令提醒
// 鉴权复用签名请求头（body为空），升级后连接只出不进

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type StreamHandler struct {
	svc *bridge.Service
}

func NewStreamHandler(svc *bridge.Service) *StreamHandler {
	return &StreamHandler{svc: svc}
}

func (h *StreamHandler) Connect() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		executorID := ctx.GetHeader(consts.ExecutorId)
		ts, err := strconv.ParseInt(ctx.GetHeader(consts.Timestamp), 10, 64)
		if err != nil {
			response.RequireAuthErr(ctx, err)
			return
		}
		env := &bridge.Envelope{
			ExecutorID: executorID,
			Nonce:      ctx.GetHeader(consts.Nonce),
			Timestamp:  ts,
			Signature:  ctx.GetHeader(consts.Signature),
		}
		if err := h.svc.Authenticate(ctx, executorID, env); err != nil {
			response.RequireAuthErr(ctx, err)
			return
		}

		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			logger.Warn("websocket升级失败", logger.Pair("err", err.Error()))
			return
		}

		hub := h.svc.Hub()
		hub.Attach(executorID, conn)

		// 读循环只为感知断连和响应ping
		go func() {
			defer func() {
				hub.Detach(executorID, conn)
				_ = conn.Close()
			}()
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			})
			_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
				_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			}
		}()
	}
}
