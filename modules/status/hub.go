package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/lifecycle"
	"thumbforge-server/modules/common/metrics"
	"thumbforge-server/modules/common/model"
	"thumbforge-server/modules/common/redis"
)

// Publisher - generation 변경 알림 (코디네이터, 콜백, reaper가 사용)
type Publisher interface {
	Publish(ctx context.Context, g *model.Generation) error
}

// update - 구독자에게 보낼 메시지
type update struct {
	data     []byte
	terminal bool
}

// Subscriber - 하나의 websocket 연결
type Subscriber struct {
	generationID string
	userID       string
	send         chan update
}

// room - generation id 별 구독자 모음
type room struct {
	id          string
	subscribers map[*Subscriber]bool
	createdAt   time.Time
}

// Hub - generation 상태를 구독자들에게 fan-out
// Redis가 있으면 generation:* 패턴 구독으로 여러 인스턴스 간 전달
type Hub struct {
	rooms map[string]*room
	mutex sync.RWMutex
	rdb   *goredis.Client
}

// NewHub - rdb가 nil이면 프로세스 내부 전달만 사용
func NewHub(rdb *goredis.Client) *Hub {
	return &Hub{
		rooms: make(map[string]*room),
		rdb:   rdb,
	}
}

// Publish - Redis 채널로 발행하거나, Redis가 없으면 바로 로컬 브로드캐스트
func (h *Hub) Publish(ctx context.Context, g *model.Generation) error {
	if h.rdb != nil {
		return redis.NewPublisher(h.rdb).Publish(ctx, g)
	}
	h.Broadcast(g)
	return nil
}

// Broadcast - 로컬 구독자에게 전달
func (h *Hub) Broadcast(g *model.Generation) {
	data, err := json.Marshal(g)
	if err != nil {
		log.Error().Err(err).Str("generation_id", g.ID).Msg("❌ [Status] Failed to encode generation")
		return
	}
	h.deliver(g.ID, update{data: data, terminal: lifecycle.IsTerminal(g.Status)})
}

func (h *Hub) deliver(generationID string, msg update) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	r, exists := h.rooms[generationID]
	if !exists {
		return
	}
	for sub := range r.subscribers {
		select {
		case sub.send <- msg:
		default:
			log.Warn().Str("generation_id", generationID).Str("user_id", sub.userID).Msg("⚠️  [Status] Subscriber buffer full, dropping update")
		}
	}
}

// Subscribe - generation room에 구독자 추가
func (h *Hub) Subscribe(generationID, userID string) *Subscriber {
	sub := &Subscriber{
		generationID: generationID,
		userID:       userID,
		send:         make(chan update, 16),
	}

	h.mutex.Lock()
	r, exists := h.rooms[generationID]
	if !exists {
		r = &room{id: generationID, subscribers: make(map[*Subscriber]bool), createdAt: time.Now()}
		h.rooms[generationID] = r
	}
	r.subscribers[sub] = true
	count := len(r.subscribers)
	h.mutex.Unlock()

	metrics.StatusSubscribers.Inc()
	log.Debug().Str("generation_id", generationID).Str("user_id", userID).Int("subscribers", count).Msg("👤 [Status] Subscriber joined")
	return sub
}

// Unsubscribe - 구독 해제, 빈 room은 바로 정리
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	r, exists := h.rooms[sub.generationID]
	if !exists || !r.subscribers[sub] {
		return
	}
	delete(r.subscribers, sub)
	metrics.StatusSubscribers.Dec()
	if len(r.subscribers) == 0 {
		delete(h.rooms, sub.generationID)
	}
}

// RoomCount - 활성 room 수
func (h *Hub) RoomCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms)
}

// SubscriberCount - generation별 구독자 수
func (h *Hub) SubscriberCount(generationID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if r, ok := h.rooms[generationID]; ok {
		return len(r.subscribers)
	}
	return 0
}

// Run - Redis 패턴 구독 루프, ctx 종료 시 반환 (Redis 없으면 즉시 반환)
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		log.Info().Msg("ℹ️  [Status] Redis disabled, using in-process fan-out")
		return
	}

	pubsub := h.rdb.PSubscribe(ctx, redis.ChannelPattern)
	defer pubsub.Close()

	log.Info().Str("pattern", redis.ChannelPattern).Msg("📡 [Status] Subscribed to generation updates")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id, valid := redis.GenerationIDFromChannel(msg.Channel)
			if !valid {
				continue
			}
			var g model.Generation
			if err := json.Unmarshal([]byte(msg.Payload), &g); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("⚠️  [Status] Invalid generation payload")
				continue
			}
			h.deliver(id, update{data: []byte(msg.Payload), terminal: lifecycle.IsTerminal(g.Status)})
		}
	}
}
