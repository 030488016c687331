package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"thumbforge-server/modules/common/apperr"
)

// User - 인증된 사용자
type User struct {
	ID    string
	Email string
}

// Claims - Supabase access token 클레임
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type contextKey struct{}

// Verifier - Supabase JWT 검증기 (HS256, 프로젝트 JWT secret)
type Verifier struct {
	secret []byte
}

// NewVerifier - secret이 비어 있으면 모든 토큰 거부
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse - 토큰 검증 후 사용자 반환
func (v *Verifier) Parse(tokenStr string) (*User, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("jwt secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token missing subject")
	}
	return &User{ID: claims.Subject, Email: claims.Email}, nil
}

// tokenFromRequest - Authorization: Bearer 우선, 없으면 ?token= (websocket용)
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			return strings.TrimSpace(header[len("bearer "):])
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware - 인증 실패 시 401
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := tokenFromRequest(r)
		if tokenStr == "" {
			apperr.Write(w, apperr.Unauthorized("Unauthorized"))
			return
		}

		user, err := v.Parse(tokenStr)
		if err != nil {
			apperr.Write(w, apperr.Unauthorized("Unauthorized"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// WithUser - context에 사용자 저장
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext - 미들웨어가 저장한 사용자
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextKey{}).(*User)
	return user, ok && user != nil
}
