package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/config"
	"thumbforge-server/modules/common/model"
)

// ChannelPrefix - generation 상태 채널 접두사
const ChannelPrefix = "generation:"

// ChannelPattern - 모든 generation 채널 구독 패턴
const ChannelPattern = ChannelPrefix + "*"

// Connect - Redis 연결 생성
func Connect(cfg *config.Config) *redis.Client {
	log.Info().Str("addr", cfg.GetRedisAddr()).Msg("🔌 Connecting to Redis")

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// 연결 테스트
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("❌ Redis ping failed")
		_ = rdb.Close()
		return nil
	}

	log.Info().Msg("✅ Redis connected")
	return rdb
}

// Channel - generation 상태 채널 이름
func Channel(generationID string) string {
	return ChannelPrefix + generationID
}

// GenerationIDFromChannel - 채널 이름에서 generation id 추출
func GenerationIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, ChannelPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, ChannelPrefix)
	return id, id != ""
}

// Publisher - generation 스냅샷을 Redis 채널로 발행
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher - Publisher 생성
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish - 실패해도 요청 흐름은 막지 않음 (에러만 반환)
func (p *Publisher) Publish(ctx context.Context, g *model.Generation) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal generation: %w", err)
	}
	if err := p.rdb.Publish(ctx, Channel(g.ID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", Channel(g.ID), err)
	}
	return nil
}

// Client - 내부 redis 클라이언트
func (p *Publisher) Client() *redis.Client {
	return p.rdb
}
