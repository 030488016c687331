package portrait

import "thumbforge-server/modules/common/model"

// MaxLabelLength - 라벨 최대 글자 수
const MaxLabelLength = 100

// CreateRequest - POST /api/portraits
type CreateRequest struct {
	StoragePath string `json:"storagePath"`
	Label       string `json:"label"`
}

// LabelRequest - PATCH /api/portraits/{id}
type LabelRequest struct {
	Label string `json:"label"`
}

// UploadSlot - portrait 직접 업로드용 서명 URL
type UploadSlot struct {
	Path      string `json:"path"`
	SignedURL string `json:"signedUrl"`
}

type ListResponse struct {
	Success   bool             `json:"success"`
	Portraits []model.Portrait `json:"portraits"`
}

type PortraitResponse struct {
	Success  bool            `json:"success"`
	Portrait *model.Portrait `json:"portrait"`
}

type SlotResponse struct {
	Success bool `json:"success"`
	*UploadSlot
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
