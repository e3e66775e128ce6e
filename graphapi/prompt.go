package graphapi

import (
	"bytes"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID string   `json:"client_id"`
	Nodes    Workflow `json:"prompt"`
}

// PromptNode is a single operation of an API-format workflow
type PromptNode struct {
	Inputs    map[string]Input `json:"inputs"`
	ClassType string           `json:"class_type"`
	Meta      *NodeMeta        `json:"_meta,omitempty"`
}

// NodeMeta is display-only information attached to a node
type NodeMeta struct {
	Title string `json:"title"`
}

// Title returns the display title of the node, falling back to its class type
func (n *PromptNode) Title() string {
	if n.Meta != nil && n.Meta.Title != "" {
		return n.Meta.Title
	}
	return n.ClassType
}

// NodeRef points at one output slot of another node
type NodeRef struct {
	NodeID      string
	OutputIndex int
}

func (r NodeRef) String() string {
	return fmt.Sprintf("%s:%d", r.NodeID, r.OutputIndex)
}

// Input is the value of a single node input. It is either a literal
// (string, number, bool, null or any other JSON value) or a link to the
// output of another node, encoded on the wire as ["<node id>", <slot>].
type Input struct {
	Value interface{}
	Link  *NodeRef
}

// Literal returns an Input holding a literal value
func Literal(v interface{}) Input {
	return Input{Value: v}
}

// Link returns an Input referencing output slot of node id
func Link(id string, slot int) Input {
	return Input{Link: &NodeRef{NodeID: id, OutputIndex: slot}}
}

func (i Input) IsLink() bool {
	return i.Link != nil
}

// String returns the literal as a string, and false if the input is not a string literal
func (i Input) String() (string, bool) {
	if i.Link != nil {
		return "", false
	}
	s, ok := i.Value.(string)
	return s, ok
}

// Int returns the literal as an int64, and false if the input is not an integral number
func (i Input) Int() (int64, bool) {
	if i.Link != nil {
		return 0, false
	}
	switch v := i.Value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	}
	return 0, false
}

func (i *Input) UnmarshalJSON(b []byte) error {
	i.Value = nil
	i.Link = nil

	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var tmp []interface{}
		if err := json.Unmarshal(trimmed, &tmp); err != nil {
			return err
		}
		// links are exactly [string, integral number]; anything else is a literal list
		if len(tmp) == 2 {
			id, idok := tmp[0].(string)
			slot, slotok := tmp[1].(float64)
			if idok && slotok && slot == math.Trunc(slot) {
				i.Link = &NodeRef{NodeID: id, OutputIndex: int(slot)}
				return nil
			}
		}
		i.Value = tmp
		return nil
	}

	return json.Unmarshal(trimmed, &i.Value)
}

func (i Input) MarshalJSON() ([]byte, error) {
	if i.Link != nil {
		return json.Marshal([]interface{}{i.Link.NodeID, i.Link.OutputIndex})
	}
	return json.Marshal(i.Value)
}

func (i Input) clone() Input {
	if i.Link != nil {
		ref := *i.Link
		return Input{Link: &ref}
	}
	return Input{Value: cloneValue(i.Value)}
}

func cloneValue(v interface{}) interface{} {
	switch value := v.(type) {
	case []interface{}:
		retv := make([]interface{}, len(value))
		for k, e := range value {
			retv[k] = cloneValue(e)
		}
		return retv
	case map[string]interface{}:
		retv := make(map[string]interface{}, len(value))
		for k, e := range value {
			retv[k] = cloneValue(e)
		}
		return retv
	}
	return v
}
