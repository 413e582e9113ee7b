package dto

import (
	"langsam-server/internal/core/domain"
)

// ============================================================================
// Model DTOs
// ============================================================================

type ModelStatusResponse struct {
	SamType      string   `json:"sam_type"`
	Healthy      bool     `json:"healthy"`
	AllowSwitch  bool     `json:"allow_switch"`
	AllowedTypes []string `json:"allowed_types"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	SamType string `json:"sam_type"`
	Error   string `json:"error,omitempty"`
}

func ToModelStatusResponse(s domain.ModelStatus) ModelStatusResponse {
	allowed := s.AllowedVariants
	if allowed == nil {
		allowed = []string{}
	}
	return ModelStatusResponse{
		SamType:      s.Variant,
		Healthy:      s.Healthy,
		AllowSwitch:  s.AllowSwitch,
		AllowedTypes: allowed,
	}
}
