package client

import (
	"log/slog"

	"github.com/goccy/go-json"
)

type WSStatusMessage struct {
	Type string
	Data interface{}
}

func (sm *WSStatusMessage) UnmarshalJSON(b []byte) error {
	var temp struct {
		Type string             `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	sm.Type = temp.Type

	switch sm.Type {
	case "status":
		sm.Data = &WSMessageDataStatus{}
	case "execution_start":
		sm.Data = &WSMessageDataExecutionStart{}
	case "execution_cached":
		sm.Data = &WSMessageDataExecutionCached{}
	case "executing":
		sm.Data = &WSMessageDataExecuting{}
	case "progress":
		sm.Data = &WSMessageDataProgress{}
	case "executed":
		sm.Data = &WSMessageDataExecuted{}
	case "execution_success":
		sm.Data = &WSMessageDataExecutionSuccess{}
	case "execution_interrupted":
		sm.Data = &WSMessageExecutionInterrupted{}
	case "execution_error":
		sm.Data = &WSMessageExecutionError{}
	default:
		sm.Data = nil
	}

	if sm.Data != nil && len(temp.Data) > 0 {
		if err := json.Unmarshal(temp.Data, sm.Data); err != nil {
			return err
		}
	}

	return nil
}

// promptID returns the prompt a message belongs to, or "" for broadcast messages
func (sm *WSStatusMessage) promptID() string {
	switch d := sm.Data.(type) {
	case *WSMessageDataExecutionStart:
		return d.PromptID
	case *WSMessageDataExecutionCached:
		return d.PromptID
	case *WSMessageDataExecuting:
		return d.PromptID
	case *WSMessageDataProgress:
		return d.PromptID
	case *WSMessageDataExecuted:
		return d.PromptID
	case *WSMessageDataExecutionSuccess:
		return d.PromptID
	case *WSMessageExecutionInterrupted:
		return d.PromptID
	case *WSMessageExecutionError:
		return d.PromptID
	}
	return ""
}

type WSMessageDataStatus struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

/*
{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}
*/

type WSMessageDataExecutionStart struct {
	PromptID string `json:"prompt_id"`
}

type WSMessageDataExecutionCached struct {
	Nodes    []string `json:"nodes"`
	PromptID string   `json:"prompt_id"`
}

// Node is nil once the whole prompt has finished
type WSMessageDataExecuting struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

/*
{"type": "executing", "data": {"node": "12", "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
{"type": "executing", "data": {"node": null, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/

type WSMessageDataProgress struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
	Node     string `json:"node"`
}

type WSMessageDataExecuted struct {
	Node     string
	Output   map[string][]DataOutput
	PromptID string
}

func (mde *WSMessageDataExecuted) UnmarshalJSON(b []byte) error {
	var temp struct {
		Node      string                 `json:"node"`
		OutputRaw map[string]interface{} `json:"output"`
		PromptID  string                 `json:"prompt_id"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	mde.Node = temp.Node
	mde.PromptID = temp.PromptID
	mde.Output = make(map[string][]DataOutput)
	for k, v := range temp.OutputRaw {
		entries, ok := v.([]interface{})
		if !ok {
			continue
		}
		for _, e := range entries {
			switch entry := e.(type) {
			case map[string]interface{}:
				filename, fok := entry["filename"].(string)
				kind, tok := entry["type"].(string)
				if !fok || !tok {
					slog.Warn("executed output entry without filename or type", "node", temp.Node, "output", k)
					continue
				}
				subfolder, _ := entry["subfolder"].(string)
				mde.Output[k] = append(mde.Output[k], DataOutput{Filename: filename, Subfolder: subfolder, Type: kind})
			case string:
				mde.Output[k] = append(mde.Output[k], DataOutput{Type: "text", Text: entry})
			default:
				slog.Warn("executed output entry of unknown type", "node", temp.Node, "output", k)
			}
		}
	}
	return nil
}

/*
{"type": "executed", "data": {"node": "9", "output": {"images": [{"filename": "ComfyUI_00046_.png", "subfolder": "", "type": "output"}]}, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/

type WSMessageDataExecutionSuccess struct {
	PromptID string `json:"prompt_id"`
}

type WSMessageExecutionInterrupted struct {
	PromptID string   `json:"prompt_id"`
	Node     string   `json:"node_id"`
	NodeType string   `json:"node_type"`
	Executed []string `json:"executed"`
}

type WSMessageExecutionError struct {
	PromptID         string   `json:"prompt_id"`
	Node             string   `json:"node_id"`
	NodeType         string   `json:"node_type"`
	Executed         []string `json:"executed"`
	ExceptionMessage string   `json:"exception_message"`
	ExceptionType    string   `json:"exception_type"`
	Traceback        []string `json:"traceback"`
}
