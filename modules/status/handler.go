package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/lifecycle"
	"thumbforge-server/modules/common/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	hub   *Hub
	store database.Store
}

func NewHandler(hub *Hub, store database.Store) *Handler {
	return &Handler{hub: hub, store: store}
}

// RegisterRoutes - 인증 미들웨어가 적용된 라우터에 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/generations/{id}", h.HandleWatch).Methods("GET")
}

// HandleWatch - GET /ws/generations/{id}?token=
// 스냅샷 전송 후 변경마다 전송, 종료 상태에서 연결 종료
func (h *Handler) HandleWatch(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Not authenticated"))
		return
	}
	generationID := mux.Vars(r)["id"]

	// 소유권 확인용 조회
	if _, err := h.load(r, user.ID, generationID); err != nil {
		apperr.Write(w, err)
		return
	}

	// 구독 후 다시 읽은 행을 스냅샷으로 사용. 그 사이 발행된 변경은 send 버퍼에 쌓임
	sub := h.hub.Subscribe(generationID, user.ID)
	snapshot, err := h.load(r, user.ID, generationID)
	if err != nil {
		h.hub.Unsubscribe(sub)
		apperr.Write(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Unsubscribe(sub)
		log.Warn().Err(err).Msg("⚠️  [Status] WebSocket upgrade failed")
		return
	}

	data, _ := json.Marshal(snapshot)
	select {
	case sub.send <- update{data: data, terminal: lifecycle.IsTerminal(snapshot.Status)}:
	default:
		log.Warn().Str("generation_id", generationID).Msg("⚠️  [Status] Subscriber buffer full, snapshot dropped")
	}

	log.Info().Str("generation_id", generationID).Str("user_id", user.ID).Msg("🔍 [Status] Watching generation")

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)
}

// load - 소유한 generation 조회, 형식 오류/미존재/타인 소유는 not-found
func (h *Handler) load(r *http.Request, userID, generationID string) (*model.Generation, error) {
	if !database.ValidID(generationID) {
		return nil, apperr.NotFound("Generation not found")
	}
	g, err := h.store.GetGeneration(r.Context(), generationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("Generation not found")
		}
		return nil, apperr.Internal("Failed to load generation", err)
	}
	if g.UserID != userID {
		return nil, apperr.NotFound("Generation not found")
	}
	return g, nil
}

// readPump - 클라이언트 메시지는 무시, 연결 종료 감지용
func (h *Handler) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		h.hub.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("generation_id", sub.generationID).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.hub.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case msg := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				log.Debug().Err(err).Str("generation_id", sub.generationID).Msg("WebSocket write error")
				return
			}
			if msg.terminal {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "generation finished"),
					time.Now().Add(writeWait))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
