package dto

import "time"

// AddLineRequest captures POST /centers/:name/plan/lines payload.
type AddLineRequest struct {
	PeriodType string `json:"period_type" validate:"required,max=64"`
	StartDate  string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ExportRequest captures POST /centers/:name/plan/export payload.
type ExportRequest struct {
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportResponse describes a rendered plan ready for download.
type ExportResponse struct {
	URL       string    `json:"url"`
	Format    string    `json:"format"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CommitResponse is returned once a draft has been written to the local schedule.
type CommitResponse struct {
	Center  string `json:"center"`
	Written int    `json:"written"`
	Status  string `json:"status"`
}
