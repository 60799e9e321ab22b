package grpc

// StartAgentRequest starts a new PTY-attached agent for an item.
type StartAgentRequest struct {
	ItemID     string `json:"itemId"`
	Role       string `json:"role"`
	Repository string `json:"repository,omitempty"`
	Workdir    string `json:"workdir"`
	Prompt     string `json:"prompt"`
}

// StartAgentResponse carries the freshly allocated agent's id.
type StartAgentResponse struct {
	AgentID string `json:"agentId"`
}

// StopAgentRequest stops a running agent.
type StopAgentRequest struct {
	ItemID  string `json:"itemId"`
	AgentID string `json:"agentId"`
}

// StopAgentResponse is empty; its presence keeps the RPC shape
// consistent with the rest of the service.
type StopAgentResponse struct{}

// SendInputRequest writes raw bytes to an agent's PTY.
type SendInputRequest struct {
	AgentID string `json:"agentId"`
	Data    []byte `json:"data"`
}

// SendInputResponse is empty.
type SendInputResponse struct{}

// ResizeRequest resizes an agent's PTY.
type ResizeRequest struct {
	AgentID string `json:"agentId"`
	Cols    int    `json:"cols"`
	Rows    int    `json:"rows"`
}

// ResizeResponse is empty.
type ResizeResponse struct{}

// DecideApprovalRequest injects a human approval decision for a
// pending approval request an agent is blocked on.
type DecideApprovalRequest struct {
	ItemID    string `json:"itemId"`
	AgentID   string `json:"agentId"`
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

// DecideApprovalResponse is empty.
type DecideApprovalResponse struct{}
