// Package relay turns a prompt pair into a queued engine job: it takes a copy
// of the workflow template, draws a seed, injects the prompts and submits the
// result.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/richinsley/promptrelay/client"
	"github.com/richinsley/promptrelay/graphapi"
)

// TemplateSource hands out a private copy of the workflow template per call
type TemplateSource interface {
	Template() graphapi.Workflow
}

// Submitter queues a workflow on the engine
type Submitter interface {
	QueuePrompt(ctx context.Context, w graphapi.Workflow) (*client.QueueItem, error)
}

// Options configure a Relay. Templates and Submitter are required.
type Options struct {
	Templates TemplateSource
	Submitter Submitter
	Seeds     graphapi.SeedSource
	Targets   graphapi.PromptTargets
	Integrity graphapi.IntegrityMode
	Logger    *slog.Logger
}

// Relay is safe for concurrent use
type Relay struct {
	templates TemplateSource
	submitter Submitter
	seeds     graphapi.SeedSource
	targets   graphapi.PromptTargets
	mode      graphapi.IntegrityMode
	logger    *slog.Logger
}

// New checks the template against the configured targets once up front. In
// strict mode an unusable target fails construction, in lenient mode it is
// logged and the request path will leave the template value in place.
func New(opts Options) (*Relay, error) {
	if opts.Templates == nil {
		return nil, errors.New("relay: template source is required")
	}
	if opts.Submitter == nil {
		return nil, errors.New("relay: submitter is required")
	}

	r := &Relay{
		templates: opts.Templates,
		submitter: opts.Submitter,
		seeds:     opts.Seeds,
		targets:   opts.Targets,
		mode:      opts.Integrity,
		logger:    opts.Logger,
	}
	if r.seeds == nil {
		r.seeds = graphapi.NewRandomSeedSource()
	}
	if r.targets == (graphapi.PromptTargets{}) {
		r.targets = graphapi.DefaultPromptTargets()
	}
	if r.mode == "" {
		r.mode = graphapi.IntegrityStrict
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	if err := graphapi.CheckTargets(r.templates.Template(), r.targets); err != nil {
		if r.mode == graphapi.IntegrityStrict {
			return nil, err
		}
		r.logger.Warn("template does not accept every target, requests will keep the template values", "error", err)
	}
	return r, nil
}

// Targets reports the inputs the relay writes
func (r *Relay) Targets() graphapi.PromptTargets {
	return r.targets
}

// Prepare builds the workflow for req without submitting it. The returned
// workflow is owned by the caller.
func (r *Relay) Prepare(req GenerationRequest) (graphapi.Workflow, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	w := r.templates.Template()
	seed := r.seeds.NextSeed()
	if err := graphapi.ApplySeed(w, r.targets.Seed, seed, r.mode, r.logger); err != nil {
		return nil, err
	}
	if err := graphapi.InjectPrompts(w, r.targets, req.Positive, req.Negative, r.mode, r.logger); err != nil {
		return nil, err
	}
	r.logger.Debug("workflow prepared", "seed", seed, "positive_len", len(req.Positive), "negative_len", len(req.Negative))
	return w, nil
}

// Generate prepares the workflow for req and queues it. Exactly one
// submission is attempted; a *ValidationError means nothing was sent.
func (r *Relay) Generate(ctx context.Context, req GenerationRequest) (*client.QueueItem, error) {
	w, err := r.Prepare(req)
	if err != nil {
		return nil, err
	}

	item, err := r.submitter.QueuePrompt(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("submit workflow: %w", err)
	}
	return item, nil
}
