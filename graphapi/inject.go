package graphapi

import (
	"errors"
	"fmt"
	"log/slog"
)

// NodeInput addresses one input of one node
type NodeInput struct {
	NodeID string `mapstructure:"node"`
	Input  string `mapstructure:"input"`
}

func (t NodeInput) String() string {
	return t.NodeID + "." + t.Input
}

// PromptTargets names the inputs that receive per-request values
type PromptTargets struct {
	Positive NodeInput `mapstructure:"positive"`
	Negative NodeInput `mapstructure:"negative"`
	Seed     NodeInput `mapstructure:"seed"`
}

// DefaultPromptTargets matches the built-in workflow
func DefaultPromptTargets() PromptTargets {
	return PromptTargets{
		Positive: NodeInput{NodeID: "6", Input: "text"},
		Negative: NodeInput{NodeID: "7", Input: "text"},
		Seed:     NodeInput{NodeID: "3", Input: "seed"},
	}
}

// IntegrityMode decides what happens when a template does not have a target input
type IntegrityMode string

const (
	// IntegrityStrict fails the operation
	IntegrityStrict IntegrityMode = "strict"
	// IntegrityLenient logs a warning and leaves the template value in place
	IntegrityLenient IntegrityMode = "lenient"
)

func ParseIntegrityMode(s string) (IntegrityMode, error) {
	switch IntegrityMode(s) {
	case IntegrityStrict, "":
		return IntegrityStrict, nil
	case IntegrityLenient:
		return IntegrityLenient, nil
	}
	return "", fmt.Errorf("unknown integrity mode %q (want %q or %q)", s, IntegrityStrict, IntegrityLenient)
}

// TemplateIntegrityError reports a target input the template cannot receive
type TemplateIntegrityError struct {
	Role   string
	Target NodeInput
	Reason string
}

func (e *TemplateIntegrityError) Error() string {
	return fmt.Sprintf("template %s target %s: %s", e.Role, e.Target, e.Reason)
}

func checkTarget(w Workflow, role string, target NodeInput) *TemplateIntegrityError {
	n := w.GetNodeById(target.NodeID)
	if n == nil {
		return &TemplateIntegrityError{Role: role, Target: target, Reason: "node not found"}
	}
	in, ok := n.Inputs[target.Input]
	if !ok {
		return &TemplateIntegrityError{Role: role, Target: target, Reason: fmt.Sprintf("%s node has no input %q", n.ClassType, target.Input)}
	}
	if in.IsLink() {
		return &TemplateIntegrityError{Role: role, Target: target, Reason: "input is linked to node " + in.Link.String()}
	}
	return nil
}

// CheckTargets reports every target the workflow cannot receive
func CheckTargets(w Workflow, targets PromptTargets) error {
	var errs []error
	for _, t := range []struct {
		role   string
		target NodeInput
	}{
		{"positive", targets.Positive},
		{"negative", targets.Negative},
		{"seed", targets.Seed},
	} {
		if err := checkTarget(w, t.role, t.target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetLiteral overwrites a literal input in place. In lenient mode a target
// the workflow cannot receive is reported to logger (slog.Default when nil)
// and left alone.
func SetLiteral(w Workflow, role string, target NodeInput, value interface{}, mode IntegrityMode, logger *slog.Logger) error {
	if err := checkTarget(w, role, target); err != nil {
		if mode == IntegrityLenient {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("template integrity", "role", role, "target", target.String(), "reason", err.Reason)
			return nil
		}
		return err
	}
	w[target.NodeID].Inputs[target.Input] = Literal(value)
	return nil
}

// InjectPrompts writes the positive and negative prompt text into w
func InjectPrompts(w Workflow, targets PromptTargets, positive, negative string, mode IntegrityMode, logger *slog.Logger) error {
	if err := SetLiteral(w, "positive", targets.Positive, positive, mode, logger); err != nil {
		return err
	}
	return SetLiteral(w, "negative", targets.Negative, negative, mode, logger)
}
