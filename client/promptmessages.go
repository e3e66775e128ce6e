package client

// our cast of characters:
// started
// executing
// progress
// data
// stopped

type PromptMessageStarted struct {
	PromptID string `json:"prompt_id"`
}

type PromptMessageExecuting struct {
	NodeID string
	Title  string
}

type PromptMessageProgress struct {
	NodeID string
	Max    int
	Value  int
}

type PromptMessageData struct {
	NodeID string
	Data   map[string][]DataOutput
}

type PromptMessageStopped struct {
	QueueItem   *QueueItem
	Interrupted bool
	Exception   *PromptMessageStoppedException
}

type PromptMessageStoppedException struct {
	NodeID           string
	NodeType         string
	NodeName         string
	ExceptionMessage string
	ExceptionType    string
	Traceback        []string
}
