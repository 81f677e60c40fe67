package crmapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// AgentCard is the A2A discovery document of an agent.
type AgentCard struct {
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	URL                string          `json:"url"`
	Version            string          `json:"version,omitempty"`
	ProtocolVersion    string          `json:"protocolVersion,omitempty"`
	Capabilities       AgentCapability `json:"capabilities"`
	DefaultInputModes  []string        `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string        `json:"defaultOutputModes,omitempty"`
	Skills             []AgentSkill    `json:"skills,omitempty"`
}

// AgentCapability lists optional protocol features.
type AgentCapability struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// AgentSkill is one advertised capability of an agent.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Part is one piece of an A2A message. Older servers use "type" instead of
// "kind".
type Part struct {
	Kind string `json:"kind,omitempty"`
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

func (p Part) isText() bool {
	return p.Kind == "text" || p.Type == "text" || (p.Kind == "" && p.Type == "" && p.Text != "")
}

// A2AMessage is an A2A protocol message.
type A2AMessage struct {
	Kind      string `json:"kind,omitempty"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
	ContextID string `json:"contextId,omitempty"`
}

// A2AResult is the result of message/send: either a message or a task.
type A2AResult struct {
	Kind      string `json:"kind"`
	ID        string `json:"id,omitempty"`
	ContextID string `json:"contextId,omitempty"`
	Role      string `json:"role,omitempty"`
	Parts     []Part `json:"parts,omitempty"`
	Status    *struct {
		State   string      `json:"state"`
		Message *A2AMessage `json:"message,omitempty"`
	} `json:"status,omitempty"`
	Artifacts []struct {
		Name  string `json:"name,omitempty"`
		Parts []Part `json:"parts"`
	} `json:"artifacts,omitempty"`
}

// Text concatenates every text part of the reply: the message parts, the
// task status message and the task artifacts, in that order.
func (r *A2AResult) Text() string {
	var chunks []string
	collect := func(parts []Part) {
		for _, p := range parts {
			if p.isText() && strings.TrimSpace(p.Text) != "" {
				chunks = append(chunks, p.Text)
			}
		}
	}
	collect(r.Parts)
	if r.Status != nil && r.Status.Message != nil {
		collect(r.Status.Message.Parts)
	}
	for _, a := range r.Artifacts {
		collect(a.Parts)
	}
	return strings.Join(chunks, "\n")
}

// State returns the task state, or "completed" for a direct message reply.
func (r *A2AResult) State() string {
	if r.Status != nil && r.Status.State != "" {
		return r.Status.State
	}
	return "completed"
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("a2a rpc error %d: %s", e.Code, e.Message)
}

func a2aPath(agentID string) string {
	return "/api/v1/a2a/" + url.PathEscape(agentID)
}

// AgentCard fetches the agent's discovery document.
func (c *Client) AgentCard(ctx context.Context, agentID string) (*AgentCard, error) {
	var card AgentCard
	path := a2aPath(agentID) + "/.well-known/agent.json"
	if err := c.http.GetJSON(ctx, path, nil, &card); err != nil {
		return nil, mapError(err, "agent card "+agentID)
	}
	return &card, nil
}

// SendA2A sends text to the agent with message/send and returns the reply.
// contextID continues an existing conversation when non-empty.
func (c *Client) SendA2A(ctx context.Context, agentID, text, contextID string) (*A2AResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("a2a: text is required")
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "message/send",
		Params: map[string]interface{}{
			"message": A2AMessage{
				Role:      "user",
				Parts:     []Part{{Kind: "text", Text: text}},
				MessageID: uuid.NewString(),
				ContextID: contextID,
			},
		},
	}

	resp, err := c.http.Do(ctx, http.MethodPost, a2aPath(agentID), nil, req)
	if err != nil {
		return nil, mapError(err, "agent "+agentID)
	}
	var rpc rpcResponse
	if err := resp.Decode(&rpc); err != nil {
		return nil, err
	}
	if rpc.Error != nil {
		return nil, rpc.Error
	}
	if len(rpc.Result) == 0 {
		return nil, fmt.Errorf("a2a: empty result from agent %s", agentID)
	}
	var result A2AResult
	if err := json.Unmarshal(rpc.Result, &result); err != nil {
		return nil, fmt.Errorf("a2a: parsing result: %w", err)
	}
	return &result, nil
}
