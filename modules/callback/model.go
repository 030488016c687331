package callback

// ItemPayload - 썸네일 단위 결과
type ItemPayload struct {
	ImageURL        string `json:"image_url"`
	Prompt          string `json:"prompt"`
	PromptIndex     int    `json:"prompt_index"`
	BackgroundIndex int    `json:"background_index"`
	KieTaskID       string `json:"kie_task_id"`
	Status          string `json:"status"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// Payload - 오케스트레이터 콜백 본문
type Payload struct {
	GenerationID string        `json:"generation_id"`
	Status       string        `json:"status"`
	Thumbnails   []ItemPayload `json:"thumbnails,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Result - 처리 요약
type Result struct {
	GenerationID string `json:"-"`
	Status       string `json:"-"`
	SuccessCount int    `json:"-"`
	FailCount    int    `json:"-"`
	Message      string `json:"message"`
}

// Response - 콜백 응답 (집계 결과와 무관하게 수신/처리 여부만 의미)
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
