package graphapi

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Workflow is an API-format ComfyUI workflow: node id to node.
// Inputs of a node reference outputs of other nodes by (node id, slot).
type Workflow map[string]*PromptNode

// ValidationError lists everything that is structurally wrong with a workflow
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid workflow: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid workflow: %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// ParseWorkflow checks data against the workflow schema, decodes it and
// validates the resulting graph
func ParseWorkflow(data []byte) (Workflow, error) {
	if err := ValidateWorkflowJSON(data); err != nil {
		return nil, err
	}

	w := Workflow{}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// NewWorkflowFromJsonReader creates a new workflow from the data read from an io.Reader
func NewWorkflowFromJsonReader(r io.Reader) (Workflow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseWorkflow(data)
}

// NewWorkflowFromJsonFile creates a new workflow from a JSON file
func NewWorkflowFromJsonFile(path string) (Workflow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return NewWorkflowFromJsonReader(file)
}

// NodeIDs returns the node ids in a stable order
func (w Workflow) NodeIDs() []string {
	retv := make([]string, 0, len(w))
	for id := range w {
		retv = append(retv, id)
	}
	sort.Strings(retv)
	return retv
}

// GetNodeById returns the node with the given id, or nil
func (w Workflow) GetNodeById(id string) *PromptNode {
	return w[id]
}

// GetNodesWithType returns the ids of all nodes of the given class type
func (w Workflow) GetNodesWithType(classType string) []string {
	retv := make([]string, 0)
	for _, id := range w.NodeIDs() {
		if w[id].ClassType == classType {
			retv = append(retv, id)
		}
	}
	return retv
}

// Validate checks that every node has a class type, every link points at an
// existing node with a non-negative slot, and that the graph has no cycles.
func (w Workflow) Validate() error {
	problems := make([]string, 0)
	if len(w) == 0 {
		problems = append(problems, "workflow has no nodes")
	}

	for _, id := range w.NodeIDs() {
		n := w[id]
		if n == nil {
			problems = append(problems, fmt.Sprintf("node %q is null", id))
			continue
		}
		if n.ClassType == "" {
			problems = append(problems, fmt.Sprintf("node %q has no class_type", id))
		}
		for _, name := range sortedInputNames(n) {
			in := n.Inputs[name]
			if !in.IsLink() {
				continue
			}
			if in.Link.OutputIndex < 0 {
				problems = append(problems, fmt.Sprintf("node %q input %q has negative output index %d", id, name, in.Link.OutputIndex))
			}
			if _, ok := w[in.Link.NodeID]; !ok {
				problems = append(problems, fmt.Sprintf("node %q input %q references missing node %q", id, name, in.Link.NodeID))
			}
		}
	}

	// only look for cycles on an otherwise sound graph
	if len(problems) == 0 {
		if cycle := w.findCycle(); cycle != nil {
			problems = append(problems, "cycle through nodes "+strings.Join(cycle, " -> "))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (w Workflow) findCycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(w))
	stack := make([]string, 0)

	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		n := w[id]
		for _, name := range sortedInputNames(n) {
			in := n.Inputs[name]
			if !in.IsLink() {
				continue
			}
			dep := in.Link.NodeID
			switch state[dep] {
			case visiting:
				// slice the stack from the first occurrence of dep
				for k, s := range stack {
					if s == dep {
						cycle := append([]string{}, stack[k:]...)
						return append(cycle, dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range w.NodeIDs() {
		if state[id] == unvisited {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the workflow. Mutating the copy never affects w.
func (w Workflow) Clone() Workflow {
	retv := make(Workflow, len(w))
	for id, n := range w {
		if n == nil {
			retv[id] = nil
			continue
		}
		nn := &PromptNode{
			ClassType: n.ClassType,
			Inputs:    make(map[string]Input, len(n.Inputs)),
		}
		if n.Meta != nil {
			meta := *n.Meta
			nn.Meta = &meta
		}
		for name, in := range n.Inputs {
			nn.Inputs[name] = in.clone()
		}
		retv[id] = nn
	}
	return retv
}

// WorkflowToJSON serializes the workflow
func (w Workflow) WorkflowToJSON() (string, error) {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedInputNames(n *PromptNode) []string {
	retv := make([]string, 0, len(n.Inputs))
	for name := range n.Inputs {
		retv = append(retv, name)
	}
	sort.Strings(retv)
	return retv
}
