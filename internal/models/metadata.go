package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MetadataKind discriminates the Metadata union.
type MetadataKind string

const (
	MetadataNone  MetadataKind = ""
	MetadataEmbed MetadataKind = "embed"
	MetadataCode  MetadataKind = "code"
)

// EmbedType names the kind of structured card embedded in a message.
type EmbedType string

const (
	EmbedTask      EmbedType = "task"
	EmbedDecision  EmbedType = "decision"
	EmbedInventory EmbedType = "inventory"
	EmbedOrder     EmbedType = "order"
)

// Embed is a structured card attached to a message. Data is kept raw; the
// presentation layer decodes it per EmbedType.
type Embed struct {
	Type EmbedType       `json:"embedType"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CodeBlock is a code snippet attached to a message.
type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Metadata is a closed union: exactly one of Embed and Code is set, matching
// Kind, or neither when Kind is MetadataNone.
type Metadata struct {
	Kind  MetadataKind
	Embed *Embed
	Code  *CodeBlock
}

// EmbedMetadata builds embed metadata.
func EmbedMetadata(t EmbedType, data json.RawMessage) Metadata {
	return Metadata{Kind: MetadataEmbed, Embed: &Embed{Type: t, Data: data}}
}

// CodeMetadata builds code-block metadata.
func CodeMetadata(language, code string) Metadata {
	return Metadata{Kind: MetadataCode, Code: &CodeBlock{Language: language, Code: code}}
}

// IsZero reports whether no metadata is attached.
func (m Metadata) IsZero() bool {
	return m.Kind == MetadataNone
}

func (m Metadata) clone() Metadata {
	out := Metadata{Kind: m.Kind}
	if m.Embed != nil {
		out.Embed = &Embed{Type: m.Embed.Type, Data: append(json.RawMessage(nil), m.Embed.Data...)}
	}
	if m.Code != nil {
		c := *m.Code
		out.Code = &c
	}
	return out
}

type metadataWire struct {
	Kind      MetadataKind    `json:"kind"`
	EmbedType EmbedType       `json:"embedType,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Language  string          `json:"language,omitempty"`
	Code      string          `json:"code,omitempty"`
}

// legacyMetadata is the untyped shape older servers send:
// {"embedded":{"type":...,"data":...},"codeBlock":{"language":...,"code":...}}.
type legacyMetadata struct {
	Embedded *struct {
		Type EmbedType       `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"embedded"`
	CodeBlock *CodeBlock `json:"codeBlock"`
}

// MarshalJSON implements json.Marshaler.
func (m Metadata) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MetadataNone:
		return []byte("null"), nil
	case MetadataEmbed:
		if m.Embed == nil {
			return nil, fmt.Errorf("metadata: embed kind without embed")
		}
		return json.Marshal(metadataWire{Kind: MetadataEmbed, EmbedType: m.Embed.Type, Data: m.Embed.Data})
	case MetadataCode:
		if m.Code == nil {
			return nil, fmt.Errorf("metadata: code kind without code block")
		}
		return json.Marshal(metadataWire{Kind: MetadataCode, Language: m.Code.Language, Code: m.Code.Code})
	default:
		return nil, fmt.Errorf("metadata: unknown kind %q", m.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Unknown shapes decode to
// MetadataNone rather than failing the enclosing message.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = Metadata{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var w metadataWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	switch w.Kind {
	case MetadataEmbed:
		*m = EmbedMetadata(w.EmbedType, w.Data)
		return nil
	case MetadataCode:
		*m = CodeMetadata(w.Language, w.Code)
		return nil
	}

	var legacy legacyMetadata
	if err := json.Unmarshal(trimmed, &legacy); err != nil {
		return nil
	}
	switch {
	case legacy.CodeBlock != nil:
		*m = CodeMetadata(legacy.CodeBlock.Language, legacy.CodeBlock.Code)
	case legacy.Embedded != nil:
		*m = EmbedMetadata(legacy.Embedded.Type, legacy.Embedded.Data)
	}
	return nil
}
