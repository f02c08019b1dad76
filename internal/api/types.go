package api

import (
	"time"

	"github.com/sendlater/sendlater/internal/domain"
)

type CreateJobRequest struct {
	To          string `json:"to"`
	Cc          string `json:"cc,omitempty"`
	Bcc         string `json:"bcc,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	SendAt      string `json:"send_at"` // RFC3339
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

type CancelJobRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

type RescheduleJobRequest struct {
	SendAt          string `json:"send_at"` // RFC3339
	ExpectedVersion int64  `json:"expected_version"`
}

type JobResponse struct {
	ID                string `json:"id"`
	State             string `json:"state"`
	To                string `json:"to"`
	Cc                string `json:"cc,omitempty"`
	Bcc               string `json:"bcc,omitempty"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
	SendAt            string `json:"send_at"`
	Attempt           int    `json:"attempt"`
	MaxAttempts       int    `json:"max_attempts"`
	LastError         string `json:"last_error,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Version           int64  `json:"version"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	CompletedAt       string `json:"completed_at,omitempty"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toJobResponse(job domain.EmailJob) JobResponse {
	resp := JobResponse{
		ID:                job.ID.String(),
		State:             string(job.State),
		To:                job.Payload.To,
		Cc:                job.Payload.Cc,
		Bcc:               job.Payload.Bcc,
		Subject:           job.Payload.Subject,
		Body:              job.Payload.Body,
		SendAt:            formatTime(job.DueAt),
		Attempt:           job.Attempt,
		MaxAttempts:       job.MaxAttempts,
		LastError:         job.LastError,
		ProviderMessageID: job.ProviderMessageID,
		Version:           job.Version,
		CreatedAt:         formatTime(job.CreatedAt),
		UpdatedAt:         formatTime(job.UpdatedAt),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = formatTime(*job.CompletedAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
