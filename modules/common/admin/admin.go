package admin

import (
	"strings"

	"thumbforge-server/modules/common/auth"
)

// Checker - 관리자 이메일 목록 기반 무제한 사용자 판별
type Checker struct {
	emails map[string]bool
}

// NewChecker - emails는 대소문자 구분 없이 비교
func NewChecker(emails []string) *Checker {
	set := make(map[string]bool, len(emails))
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			set[email] = true
		}
	}
	return &Checker{emails: set}
}

// IsUnlimited - 이메일이 관리자 목록에 있으면 true
// 이메일이 없는 사용자는 항상 false
func (c *Checker) IsUnlimited(user *auth.User) bool {
	if c == nil || user == nil || user.Email == "" {
		return false
	}
	return c.emails[strings.ToLower(user.Email)]
}
