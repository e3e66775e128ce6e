package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/richinsley/promptrelay/graphapi"
)

// MessageHandlers defines optional callback functions for the execution updates
// of a followed prompt. All handlers are optional.
type MessageHandlers struct {
	// OnStarted is called when execution begins
	OnStarted func(*PromptMessageStarted)

	// OnExecuting is called when a node starts executing
	OnExecuting func(*PromptMessageExecuting)

	// OnProgress is called with progress updates during node execution
	OnProgress func(*PromptMessageProgress)

	// OnData is called when output data is available
	OnData func(*PromptMessageData)

	// OnStopped is called when execution stops (success, error, or interruption)
	OnStopped func(*PromptMessageStopped)

	// OnError is called before OnStopped when execution failed
	OnError func(*PromptMessageStoppedException)

	// OnComplete is called after the message loop exits, regardless of success or failure
	OnComplete func()
}

// DefaultMessageHandlers logs started, executing, error and stopped messages
func DefaultMessageHandlers() *MessageHandlers {
	return &MessageHandlers{
		OnStarted: func(msg *PromptMessageStarted) {
			slog.Info("Execution started", "prompt_id", msg.PromptID)
		},
		OnExecuting: func(msg *PromptMessageExecuting) {
			slog.Info("Executing node", "node_id", msg.NodeID, "title", msg.Title)
		},
		OnError: func(err *PromptMessageStoppedException) {
			slog.Error("Execution error",
				"node_id", err.NodeID,
				"node_type", err.NodeType,
				"error", err.ExceptionMessage,
			)
		},
		OnStopped: func(msg *PromptMessageStopped) {
			if msg.Exception == nil && !msg.Interrupted {
				slog.Info("Execution completed successfully")
			}
		},
	}
}

// WithProgressHandler adds a progress handler (builder pattern)
func (h *MessageHandlers) WithProgressHandler(fn func(*PromptMessageProgress)) *MessageHandlers {
	h.OnProgress = fn
	return h
}

// WithDataHandler adds a data handler (builder pattern)
func (h *MessageHandlers) WithDataHandler(fn func(*PromptMessageData)) *MessageHandlers {
	h.OnData = fn
	return h
}

// WithExecutingHandler adds an executing handler (builder pattern)
func (h *MessageHandlers) WithExecutingHandler(fn func(*PromptMessageExecuting)) *MessageHandlers {
	h.OnExecuting = fn
	return h
}

// QueuePromptAndFollow opens the engine's status stream, queues w under the
// stream's client id and dispatches execution updates to handlers until the
// prompt finishes. The stream is opened first so no update can be missed.
//
// Returns the acknowledgement, and an error if queueing or execution failed.
func (c *ComfyClient) QueuePromptAndFollow(ctx context.Context, w graphapi.Workflow, handlers *MessageHandlers) (*QueueItem, error) {
	if handlers == nil {
		handlers = &MessageHandlers{}
	}

	clientID := uuid.New().String()
	ws := c.newWebSocket(clientID)
	if err := ws.Connect(ctx); err != nil {
		return nil, err
	}
	defer ws.Close()

	item, err := c.QueuePromptWithClientID(ctx, clientID, w)
	if err != nil {
		return nil, err
	}

	// unblock the reader when the caller gives up
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	err = followPrompt(ws, item, handlers)
	if ctx.Err() != nil {
		return item, transportError(ctx.Err())
	}
	return item, err
}

func followPrompt(ws *WebSocketConnection, item *QueueItem, handlers *MessageHandlers) error {
	if handlers.OnComplete != nil {
		defer handlers.OnComplete()
	}

	stopped := func(msg *PromptMessageStopped) {
		if handlers.OnStopped != nil {
			handlers.OnStopped(msg)
		}
	}

	for {
		data, err := ws.ReadText()
		if err != nil {
			return transportError(fmt.Errorf("status stream: %w", err))
		}

		message := &WSStatusMessage{}
		if err := json.Unmarshal(data, message); err != nil {
			slog.Error("Deserializing Status Message:", "error", err)
			continue
		}
		if id := message.promptID(); id == "" || id != item.PromptID {
			continue
		}

		switch s := message.Data.(type) {
		case *WSMessageDataExecutionStart:
			if handlers.OnStarted != nil {
				handlers.OnStarted(&PromptMessageStarted{PromptID: s.PromptID})
			}
		case *WSMessageDataExecuting:
			if s.Node == nil {
				// final node was processed
				stopped(&PromptMessageStopped{QueueItem: item})
				return nil
			}
			if handlers.OnExecuting != nil {
				handlers.OnExecuting(&PromptMessageExecuting{NodeID: *s.Node, Title: nodeTitle(item, *s.Node)})
			}
		case *WSMessageDataProgress:
			if handlers.OnProgress != nil {
				handlers.OnProgress(&PromptMessageProgress{NodeID: s.Node, Max: s.Max, Value: s.Value})
			}
		case *WSMessageDataExecuted:
			if handlers.OnData != nil {
				handlers.OnData(&PromptMessageData{NodeID: s.Node, Data: s.Output})
			}
		case *WSMessageDataExecutionSuccess:
			stopped(&PromptMessageStopped{QueueItem: item})
			return nil
		case *WSMessageExecutionInterrupted:
			stopped(&PromptMessageStopped{QueueItem: item, Interrupted: true})
			return ErrInterrupted
		case *WSMessageExecutionError:
			exception := &PromptMessageStoppedException{
				NodeID:           s.Node,
				NodeType:         s.NodeType,
				NodeName:         nodeTitle(item, s.Node),
				ExceptionMessage: s.ExceptionMessage,
				ExceptionType:    s.ExceptionType,
				Traceback:        s.Traceback,
			}
			if handlers.OnError != nil {
				handlers.OnError(exception)
			}
			stopped(&PromptMessageStopped{QueueItem: item, Exception: exception})
			return fmt.Errorf("execution failed: %s - %s", s.ExceptionType, s.ExceptionMessage)
		}
	}
}

func nodeTitle(item *QueueItem, nodeID string) string {
	if n := item.Workflow.GetNodeById(nodeID); n != nil {
		return n.Title()
	}
	return nodeID
}
