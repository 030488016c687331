package upload

// Slot - 클라이언트 직접 업로드용 경로 + 서명 URL
type Slot struct {
	Path      string `json:"path"`
	SignedURL string `json:"signedUrl"`
}

// SlotsRequest - POST /api/uploads/backgrounds
type SlotsRequest struct {
	Count int `json:"count"`
}

// SlotsResponse - 발급된 업로드 슬롯
type SlotsResponse struct {
	Success bool   `json:"success"`
	URLs    []Slot `json:"urls"`
}
