package mcp

// Role indicates the role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentTypeText is the type tag for text content blocks.
const ContentTypeText = "text"

// LatestProtocolVersion is the newest protocol revision the server speaks.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists every revision accepted during
// initialization, newest first.
var SupportedProtocolVersions = []string{
	LatestProtocolVersion,
	"2025-03-26",
	"2024-11-05",
}

// IsSupportedProtocolVersion reports whether v is one of SupportedProtocolVersions.
func IsSupportedProtocolVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// ClientCapabilities advertises client features.
type ClientCapabilities struct {
	Roots *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"roots,omitempty"`
	Sampling    *struct{} `json:"sampling,omitempty"`
	Elicitation *struct{} `json:"elicitation,omitempty"`
}

// ServerCapabilities advertises server features.
type ServerCapabilities struct {
	Prompts *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"prompts,omitempty"`
	Resources *struct {
		ListChanged bool `json:"listChanged"`
		Subscribe   bool `json:"subscribe"`
	} `json:"resources,omitempty"`
	Tools *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
}

// ImplementationInfo describes the implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// ContentBlock is a typed content part of a message or tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitzero"`
	// For EmbeddedResource
	Resource *ResourceContents `json:"resource,omitempty"`
}

// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is the JSON schema describing a tool's arguments. The root
// is always an object.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

// SchemaProperty is a JSON schema node. Only the keywords needed to describe
// and validate tool arguments are represented.
type SchemaProperty struct {
	Type                 string                    `json:"type,omitempty"`
	Description          string                    `json:"description,omitzero"`
	Items                *SchemaProperty           `json:"items,omitempty"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties *bool                     `json:"additionalProperties,omitempty"`
	Enum                 []any                     `json:"enum,omitempty"`
	Default              any                       `json:"default,omitempty"`
	Pattern              string                    `json:"pattern,omitzero"`
	MinLength            *uint64                   `json:"minLength,omitempty"`
	MaxLength            *uint64                   `json:"maxLength,omitempty"`
	MinItems             *uint64                   `json:"minItems,omitempty"`
	MaxItems             *uint64                   `json:"maxItems,omitempty"`
	Minimum              *float64                  `json:"minimum,omitempty"`
	Maximum              *float64                  `json:"maximum,omitempty"`
}

// Resource represents an addressable resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitzero"`
	MimeType    string `json:"mimeType,omitzero"`
}

// ResourceTemplate describes a template for resource URIs.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitzero"`
	MimeType    string `json:"mimeType,omitzero"`
}

// ResourceContents is the value of a resource read.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitzero"`
	Text     string `json:"text,omitzero"`
	Blob     string `json:"blob,omitzero"`
}

// Prompt describes a named prompt the server can provide.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitzero"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes a single prompt argument.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitzero"`
	Required    bool   `json:"required,omitzero"`
}

// PromptMessage is a message used in a prompt. Content is a single block, as
// on the wire.
type PromptMessage struct {
	Role    Role         `json:"role"`
	Content ContentBlock `json:"content"`
}
