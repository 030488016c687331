package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/model"
	"thumbforge-server/modules/common/storage"
)

// Broker - 배경 이미지 업로드 슬롯 발급
type Broker struct {
	objects storage.ObjectStore
	bucket  string
	now     func() time.Time
}

func NewBroker(objects storage.ObjectStore, bucket string) *Broker {
	return &Broker{objects: objects, bucket: bucket, now: time.Now}
}

// SetClock - 테스트용
func (b *Broker) SetClock(now func() time.Time) {
	b.now = now
}

// BackgroundPath - {userId}/{unixMillis}-{index}.jpg
func BackgroundPath(userID string, at time.Time, index int) string {
	return fmt.Sprintf("%s/%d-%d.jpg", userID, at.UnixMilli(), index)
}

// IssueSlots - count개의 서명 업로드 URL 발급 (0이면 스토리지 호출 없음)
func (b *Broker) IssueSlots(ctx context.Context, userID string, count int) ([]Slot, error) {
	if count < 0 || count > model.MaxBackgrounds {
		return nil, apperr.Validation("Must request between 0 and %d upload URLs", model.MaxBackgrounds)
	}

	slots := make([]Slot, 0, count)
	if count == 0 {
		return slots, nil
	}

	timestamp := b.now()
	for i := 0; i < count; i++ {
		path := BackgroundPath(userID, timestamp, i)
		signedURL, err := b.objects.CreateUploadSlot(ctx, b.bucket, path)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("path", path).Msg("❌ [Upload] Failed to create upload URL")
			return nil, apperr.Internal("Failed to create upload URL", err)
		}
		slots = append(slots, Slot{Path: path, SignedURL: signedURL})
	}

	log.Info().Str("user_id", userID).Int("count", count).Msg("📎 [Upload] Issued background upload slots")
	return slots, nil
}
