package transcribe

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/teslashibe/go-tony/internal/httpc"
)

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// TranscribeFile uploads a complete recording and waits for its transcript.
func (c *Client) TranscribeFile(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	key := c.config.key()
	if key == "" {
		return "", ErrNoAPIKey
	}
	auth := http.Header{"Authorization": {key}}
	base := c.config.RESTURL

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", key)
	req.Header.Set("Content-Type", "application/octet-stream")
	body, err := httpc.Do(c.http, req)
	if err != nil {
		return "", err
	}
	var up uploadResponse
	if err := decodeJSON(body, &up); err != nil {
		return "", err
	}

	var job transcriptResponse
	if err := httpc.PostJSON(ctx, c.http, base+"/v2/transcript", auth, transcriptRequest{AudioURL: up.UploadURL}, &job); err != nil {
		return "", err
	}
	c.logger.Debug("transcription job queued", "id", job.ID, "bytes", len(audio))

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	for {
		switch job.Status {
		case "completed":
			return job.Text, nil
		case "error":
			return "", &JobError{ID: job.ID, Message: job.Error}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		body, err := httpc.GetJSON(ctx, c.http, base+"/v2/transcript/"+job.ID, auth)
		if err != nil {
			return "", err
		}
		if err := decodeJSON(body, &job); err != nil {
			return "", err
		}
	}
}
