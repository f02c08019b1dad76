// apismoke exercises a running sendlaterd instance end to end: create a
// scheduled send, read it back, push it out, and cancel it. Useful as a
// deployment smoke test; it never leaves a job behind.
//
// Usage:
//
//	BASE_URL=http://localhost:8080 TOKEN=<bearer token> go run .
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type job struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	SendAt  string `json:"send_at"`
	Version int64  `json:"version"`
}

var (
	baseURL string
	token   string
	client  = &http.Client{Timeout: 10 * time.Second}
)

func main() {
	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token = os.Getenv("TOKEN")
	if token == "" {
		log.Fatal("TOKEN is required")
	}

	sendAt := time.Now().UTC().Add(10 * time.Minute)

	var created job
	call("POST", "/jobs", map[string]any{
		"to":      "smoke@example.com",
		"subject": "smoke test",
		"body":    "smoke test body",
		"send_at": sendAt.Format(time.RFC3339),
	}, http.StatusCreated, &created)
	log.Printf("created job %s (state=%s, send_at=%s)", created.ID, created.State, created.SendAt)

	var fetched job
	call("GET", "/jobs/"+created.ID, nil, http.StatusOK, &fetched)
	if fetched.State != "pending" {
		log.Fatalf("expected pending, got %s", fetched.State)
	}

	var rescheduled job
	call("POST", "/jobs/"+created.ID+"/reschedule", map[string]any{
		"send_at":          sendAt.Add(time.Hour).Format(time.RFC3339),
		"expected_version": fetched.Version,
	}, http.StatusOK, &rescheduled)
	log.Printf("rescheduled job to %s (version=%d)", rescheduled.SendAt, rescheduled.Version)

	var canceled job
	call("POST", "/jobs/"+created.ID+"/cancel", map[string]any{
		"expected_version": rescheduled.Version,
	}, http.StatusOK, &canceled)
	if canceled.State != "canceled" {
		log.Fatalf("expected canceled, got %s", canceled.State)
	}
	log.Printf("canceled job %s", canceled.ID)

	fmt.Println("smoke test passed")
}

func call(method, path string, body any, wantStatus int, out any) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d (want %d): %s", method, path, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("%s %s: unmarshal: %v", method, path, err)
		}
	}
}
