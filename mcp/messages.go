package mcp

import "encoding/json"

// Method is a JSON-RPC method or notification name.
type Method string

const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	ToolsListMethod Method = "tools/list"
	ToolsCallMethod Method = "tools/call"

	ResourcesListMethod                    Method = "resources/list"
	ResourcesReadMethod                    Method = "resources/read"
	ResourcesTemplatesListMethod           Method = "resources/templates/list"
	ResourcesListChangedNotificationMethod Method = "notifications/resources/list_changed"

	PromptsListMethod Method = "prompts/list"
	PromptsGetMethod  Method = "prompts/get"

	PingMethod                  Method = "ping"
	CancelledNotificationMethod Method = "notifications/cancelled"
)

// PaginatedRequest is embedded in list requests.
type PaginatedRequest struct {
	Cursor string `json:"cursor,omitzero"`
}

// PaginatedResult is embedded in list results.
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitzero"`
}

// BaseMetadata carries the optional _meta object.
type BaseMetadata struct {
	Meta map[string]any `json:"_meta,omitempty"`
}

type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
	BaseMetadata
}

type ListToolsRequest struct {
	PaginatedRequest
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
	BaseMetadata
}

// CallToolRequestReceived is a tools/call request as decoded by the server.
// Arguments are kept raw so the tool can validate them.
type CallToolRequestReceived struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the content envelope returned for every tool call.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitzero"`
	BaseMetadata
}

type ListResourcesRequest struct {
	PaginatedRequest
}

type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
	PaginatedResult
	BaseMetadata
}

type ListResourceTemplatesRequest struct {
	PaginatedRequest
}

type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	PaginatedResult
	BaseMetadata
}

type ReadResourceRequest struct {
	URI string `json:"uri"`
}

type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
	BaseMetadata
}

type ListPromptsRequest struct {
	PaginatedRequest
}

type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
	PaginatedResult
	BaseMetadata
}

// GetPromptRequestReceived is a prompts/get request as decoded by the server.
type GetPromptRequestReceived struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type GetPromptResult struct {
	Description string          `json:"description,omitzero"`
	Messages    []PromptMessage `json:"messages"`
	BaseMetadata
}

// EmptyResult is returned by methods without a payload, such as ping.
type EmptyResult struct {
	BaseMetadata
}
