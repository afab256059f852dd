// Package models defines the JSON views shared by the API and MCP layers.
package models

import "time"

// DocumentMetadata is a lightweight representation returned by list operations.
type DocumentMetadata struct {
	Ref       string    `json:"ref"`
	Files     []string  `json:"files"`
	ReadOnly  bool      `json:"read_only"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Annotation is the JSON view of one annotation line.
type Annotation struct {
	ID       string   `json:"id,omitempty"`
	Kind     string   `json:"kind"`
	Type     string   `json:"type,omitempty"`
	Line     int      `json:"line"`
	Start    *int     `json:"start,omitempty"`
	End      *int     `json:"end,omitempty"`
	Text     string   `json:"text,omitempty"`
	Trigger  string   `json:"trigger,omitempty"`
	Args     []Arg    `json:"args,omitempty"`
	Target   string   `json:"target,omitempty"`
	Entities []string `json:"entities,omitempty"`
	Raw      string   `json:"raw"`
}

// Arg is one event argument.
type Arg struct {
	Role   string `json:"role"`
	Target string `json:"target"`
}

// Document is the full representation of an opened document.
type Document struct {
	Ref         string       `json:"ref"`
	ReadOnly    bool         `json:"read_only"`
	Checksum    string       `json:"checksum"`
	FailedLines []int        `json:"failed_lines"`
	Annotations []Annotation `json:"annotations"`
}

// Change is one entry of a document changelog.
type Change struct {
	Kind      string    `json:"kind"`
	Before    string    `json:"before,omitempty"`
	After     string    `json:"after,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}
