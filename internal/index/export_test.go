package index

import "github.com/calvinalkan/kanbus/internal/issue"

// WithReader replaces the issue file reader, letting tests inject failures.
func WithReader(read func(path string) (*issue.Issue, error)) Option {
	return func(o *options) {
		o.read = read
	}
}
