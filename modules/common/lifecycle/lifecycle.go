package lifecycle

import (
	"fmt"

	"thumbforge-server/modules/common/model"
)

// transitions - 허용되는 상태 전이 (from → to)
// pending → processing → {completed | failed | partial}, pending → failed (dispatch 실패)
var transitions = map[string][]string{
	model.StatusPending:    {model.StatusProcessing, model.StatusFailed},
	model.StatusProcessing: {model.StatusCompleted, model.StatusFailed, model.StatusPartial},
}

// IsTerminal - 더 이상 전이가 없는 상태인지 확인
func IsTerminal(status string) bool {
	switch status {
	case model.StatusCompleted, model.StatusFailed, model.StatusPartial:
		return true
	}
	return false
}

// IsValid - 알려진 generation 상태인지 확인
func IsValid(status string) bool {
	return status == model.StatusPending || status == model.StatusProcessing || IsTerminal(status)
}

// CanTransition - from → to 전이가 허용되는지 확인
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedFrom - to 상태로 올 수 있는 이전 상태 목록 (조건부 업데이트용)
func AllowedFrom(to string) []string {
	var out []string
	for _, from := range []string{model.StatusPending, model.StatusProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// NonTerminal - 아직 종료되지 않은 상태 목록
func NonTerminal() []string {
	return []string{model.StatusPending, model.StatusProcessing}
}

// Check - 전이 검증, 허용되지 않으면 에러
func Check(from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal generation transition %s → %s", from, to)
	}
	return nil
}

// Aggregate - 개별 썸네일 결과로 최종 상태 결정
// 전부 실패 (1개 이상 시도) → failed, 혼합 → partial, 그 외 → completed
func Aggregate(successCount, failCount int) string {
	switch {
	case successCount == 0 && failCount > 0:
		return model.StatusFailed
	case failCount > 0:
		return model.StatusPartial
	default:
		return model.StatusCompleted
	}
}
