package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"thumbforge-server/modules/common/config"
)

// SignatureHeader - 오케스트레이터 서명 헤더
const SignatureHeader = "x-webhook-signature"

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Verifier - 설정된 모드에 따라 콜백 본문 서명 검증
type Verifier struct {
	mode   config.SignatureMode
	secret []byte
}

func NewVerifier(mode config.SignatureMode, secret string) *Verifier {
	return &Verifier{mode: mode, secret: []byte(secret)}
}

// Mode - 현재 검증 모드
func (v *Verifier) Mode() config.SignatureMode {
	return v.mode
}

// Verify - unverified 모드는 항상 통과
// hmac-sha256 모드는 raw body의 hex HMAC과 상수 시간 비교
func (v *Verifier) Verify(body []byte, signature string) error {
	if v.mode != config.SignatureHMACSHA256 {
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}
	expected := Sign(v.secret, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign - hex(HMAC-SHA256(secret, body))
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
