package profile

import "thumbforge-server/modules/common/model"

// MaxNameLength - 이름 최대 글자 수
const MaxNameLength = 100

// UpdateRequest - PATCH /api/profile
type UpdateRequest struct {
	FullName string `json:"fullName"`
}

// AvatarRequest - PUT /api/profile/avatar
type AvatarRequest struct {
	AvatarURL string `json:"avatarUrl"`
}

type ProfileResponse struct {
	Success bool           `json:"success"`
	Profile *model.Profile `json:"profile"`
}
