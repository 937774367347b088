// Package issue defines the on-disk issue record and reads it from JSON files.
package issue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Dependency types.
const (
	DependencyBlockedBy = "blocked-by"
	DependencyRelatesTo = "relates-to"
)

// StatusClosed is the only status with special meaning to the index (ready filtering).
const StatusClosed = "closed"

// FileExt is the extension of issue files inside the issues directory.
const FileExt = ".json"

// Errors returned by ReadFile and Validate.
var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidIssue = errors.New("invalid issue file")
)

// Dependency links an issue to a target issue.
type Dependency struct {
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Comment is a single comment on an issue.
type Comment struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue is one tracked work item, persisted as <id>.json.
//
// An Issue is treated as immutable once it has been indexed: the index hands
// out shared pointers and every bucket refers to the same record.
type Issue struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	Assignee     *string        `json:"assignee"`
	Creator      *string        `json:"creator"`
	Parent       *string        `json:"parent"`
	Labels       []string       `json:"labels"`
	Dependencies []Dependency   `json:"dependencies"`
	Comments     []Comment      `json:"comments"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ClosedAt     *time.Time     `json:"closed_at"`
	Custom       map[string]any `json:"custom"`
}

// ParentID returns the parent identifier, or "" when the issue has no parent.
func (i *Issue) ParentID() string {
	if i.Parent == nil {
		return ""
	}

	return *i.Parent
}

// BlockedBy returns the targets of all blocked-by dependencies.
func (i *Issue) BlockedBy() []string {
	var targets []string

	for _, dep := range i.Dependencies {
		if dep.Type == DependencyBlockedBy {
			targets = append(targets, dep.Target)
		}
	}

	return targets
}

// Validate checks the fields every issue file must carry.
func (i *Issue) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"id", i.ID},
		{"title", i.Title},
		{"type", i.Type},
		{"status", i.Status},
	}

	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, field.name)
		}
	}

	for n, dep := range i.Dependencies {
		if dep.Target == "" {
			return fmt.Errorf("%w: dependencies[%d].target", ErrMissingField, n)
		}

		if dep.Type == "" {
			return fmt.Errorf("%w: dependencies[%d].type", ErrMissingField, n)
		}
	}

	return nil
}

// Parse decodes and validates one issue from JSON.
func Parse(data []byte) (*Issue, error) {
	var iss Issue

	err := json.Unmarshal(data, &iss)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIssue, err)
	}

	err = iss.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIssue, err)
	}

	if iss.Labels == nil {
		iss.Labels = []string{}
	}

	if iss.Dependencies == nil {
		iss.Dependencies = []Dependency{}
	}

	if iss.Comments == nil {
		iss.Comments = []Comment{}
	}

	if iss.Custom == nil {
		iss.Custom = map[string]any{}
	}

	return &iss, nil
}

// ReadFile reads and parses the issue stored at path.
func ReadFile(path string) (*Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading issue: %w", err)
	}

	iss, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return iss, nil
}

// Marshal encodes an issue the way it is stored on disk.
func Marshal(iss *Issue) ([]byte, error) {
	data, err := json.MarshalIndent(iss, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding issue %s: %w", iss.ID, err)
	}

	return append(data, '\n'), nil
}
