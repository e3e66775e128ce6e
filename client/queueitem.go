package client

import (
	"github.com/goccy/go-json"

	"github.com/richinsley/promptrelay/graphapi"
)

// QueueItem is the engine's acknowledgement of a queued prompt
type QueueItem struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
	// ClientID is the correlation id the prompt was submitted with
	ClientID string `json:"-"`
	// Raw is the acknowledgement body exactly as the engine sent it
	Raw      json.RawMessage `json:"-"`
	Workflow graphapi.Workflow  `json:"-"`
}
