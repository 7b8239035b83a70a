package protocol

import (
	"encoding/json"
	"strings"
)

// MaxInputImages caps how many inline images a chat.send may carry.
const MaxInputImages = 4

// ImageInput accepts either a bare data-URL string or an {"dataUrl": ...}
// object, the two shapes clients are known to send.
type ImageInput struct {
	DataURL string
}

func (i *ImageInput) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		i.DataURL = s
		return nil
	}
	var obj struct {
		DataURL string `json:"dataUrl"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	i.DataURL = obj.DataURL
	return nil
}

func (i ImageInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.DataURL)
}

// ChatSendData is the payload of a chat.send command.
type ChatSendData struct {
	Prompt           string       `json:"prompt"`
	Images           []ImageInput `json:"images,omitempty"`
	SessionID        string       `json:"sessionId,omitempty"`
	WorkingDirectory string       `json:"workingDirectory,omitempty"`
	Model            string       `json:"model,omitempty"`
	Sandbox          string       `json:"sandbox,omitempty"`
	ApprovalPolicy   string       `json:"approvalPolicy,omitempty"`
	Effort           string       `json:"effort,omitempty"`
	SkipGitRepoCheck bool         `json:"skipGitRepoCheck,omitempty"`
}

// ImageDataURLs returns the valid data-URL images, capped at MaxInputImages.
// Entries that are blank or not image data-URLs are dropped.
func (d *ChatSendData) ImageDataURLs() []string {
	if len(d.Images) == 0 {
		return nil
	}
	urls := make([]string, 0, MaxInputImages)
	for _, img := range d.Images {
		url := strings.TrimSpace(img.DataURL)
		if url == "" || !strings.HasPrefix(strings.ToLower(url), "data:image/") {
			continue
		}
		urls = append(urls, url)
		if len(urls) >= MaxInputImages {
			break
		}
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}

// RunCancelData is the payload of a run.cancel command.
type RunCancelData struct {
	RunID     string `json:"runId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ApprovalRespondData is the payload of an approval.respond command.
type ApprovalRespondData struct {
	RunID     string `json:"runId"`
	RequestID string `json:"requestId"`
	Decision  string `json:"decision,omitempty"`
}

// PlanGetData is the payload of a plan.get command.
type PlanGetData struct {
	SessionID string `json:"sessionId"`
}
