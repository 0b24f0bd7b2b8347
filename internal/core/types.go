package core

import "time"

// ProjectStatus tracks where a project is in its generation lifecycle.
type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectGenerating ProjectStatus = "generating"
	ProjectReady      ProjectStatus = "ready"
	ProjectFailed     ProjectStatus = "failed"
)

// Valid reports whether the status is one of the known values.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectDraft, ProjectGenerating, ProjectReady, ProjectFailed:
		return true
	default:
		return false
	}
}

// AssetKind identifies what an attached deliverable is.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
	AssetAudio AssetKind = "audio"
	AssetText  AssetKind = "text"
)

// Asset is a generated deliverable attached to a project.
type Asset struct {
	Kind        AssetKind `json:"kind" yaml:"kind"`
	URL         string    `json:"url,omitempty" yaml:"url,omitempty"`
	ContentType string    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Text        string    `json:"text,omitempty" yaml:"text,omitempty"`
	Service     string    `json:"service,omitempty" yaml:"service,omitempty"`
	Model       string    `json:"model,omitempty" yaml:"model,omitempty"`
	TaskID      string    `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Project is the persisted record that generation results are attached to.
//
// Version increments on every successful save; the store rejects writes
// carrying a stale version.
type Project struct {
	ID        string            `json:"id" yaml:"id"`
	Title     string            `json:"title" yaml:"title"`
	Status    ProjectStatus     `json:"status" yaml:"status"`
	Prompt    string            `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Assets    []Asset           `json:"assets,omitempty" yaml:"assets,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Version   int64             `json:"version" yaml:"version"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	if p.Assets != nil {
		out.Assets = append([]Asset(nil), p.Assets...)
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// CallRecord is one orchestrated upstream call as written to the call log.
type CallRecord struct {
	ID         string        `json:"id" yaml:"id"`
	Service    string        `json:"service" yaml:"service"`
	Operation  string        `json:"operation" yaml:"operation"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`
	Credential int           `json:"credential" yaml:"credential"`
	Attempts   int           `json:"attempts" yaml:"attempts"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
	Kind       string        `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
}

// Succeeded reports whether the call completed without an error kind.
func (r CallRecord) Succeeded() bool {
	return r.Kind == "" && r.Error == ""
}
