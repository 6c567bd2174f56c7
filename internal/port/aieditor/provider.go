// Package aieditor defines the port for the external AI file-edit collaborator.
package aieditor

import "context"

// Request carries everything the collaborator needs to rewrite a file.
type Request struct {
	Prompt   string
	Content  string
	FileName string
	FileType string
}

// Result is the collaborator's proposed edit. Confidence is 0–1;
// a zero value with Scored=false means the provider returned no score.
type Result struct {
	Content     string
	Description string
	Confidence  float64
	Scored      bool
}

// Provider is the opaque AI-edit collaborator: prompt + current content in,
// modified content + description + optional confidence out. Implementations
// must respect ctx cancellation and deadlines.
type Provider interface {
	Edit(ctx context.Context, req Request) (*Result, error)
}
