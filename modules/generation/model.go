package generation

import "thumbforge-server/modules/common/model"

// CreateRequest - POST /api/generations
type CreateRequest struct {
	PortraitID      string   `json:"portraitId"`
	Keywords        string   `json:"keywords"`
	BackgroundPaths []string `json:"backgroundPaths"`
}

// CreateResponse - 생성된 generation id
type CreateResponse struct {
	Success      bool   `json:"success"`
	GenerationID string `json:"generationId"`
}

// Detail - generation + 썸네일
type Detail struct {
	*model.Generation
	Thumbnails []model.Thumbnail `json:"thumbnails"`
}

// DetailResponse - GET /api/generations/{id}
type DetailResponse struct {
	Success    bool    `json:"success"`
	Generation *Detail `json:"generation"`
}

// ListResponse - GET /api/generations
type ListResponse struct {
	Success     bool               `json:"success"`
	Generations []model.Generation `json:"generations"`
}
