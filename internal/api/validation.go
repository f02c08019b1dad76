package api

import (
	"fmt"
	"net/mail"
	"time"
)

// maxRecipients caps the combined to/cc/bcc address count per message.
const maxRecipients = 100

// maxAttemptsCeiling bounds how many delivery attempts a caller may request.
const maxAttemptsCeiling = 10

func validateCreateJob(req CreateJobRequest) error {
	if req.To == "" {
		return fmt.Errorf("to is required")
	}

	total := 0
	for field, list := range map[string]string{"to": req.To, "cc": req.Cc, "bcc": req.Bcc} {
		if list == "" {
			continue
		}
		addrs, err := mail.ParseAddressList(list)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
		total += len(addrs)
	}
	if total > maxRecipients {
		return fmt.Errorf("too many recipients (max %d)", maxRecipients)
	}

	if req.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if req.Body == "" {
		return fmt.Errorf("body is required")
	}

	if req.SendAt == "" {
		return fmt.Errorf("send_at is required")
	}
	if _, err := time.Parse(time.RFC3339, req.SendAt); err != nil {
		return fmt.Errorf("invalid send_at: %w", err)
	}

	if req.MaxAttempts < 0 || req.MaxAttempts > maxAttemptsCeiling {
		return fmt.Errorf("max_attempts must be between 1 and %d", maxAttemptsCeiling)
	}

	return nil
}
