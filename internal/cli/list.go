package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kanbus/internal/config"
	"github.com/calvinalkan/kanbus/internal/daemon"
	"github.com/calvinalkan/kanbus/internal/index"
	"github.com/calvinalkan/kanbus/internal/issue"
	"github.com/calvinalkan/kanbus/internal/listing"
)

// ListCmd returns the list command.
func ListCmd(cfg *config.Config, getenv func(string) string) *Command {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.String("status", "", "Filter by status")
	fs.String("type", "", "Filter by type")
	fs.String("parent", "", "Filter by parent issue ID")
	fs.String("label", "", "Filter by label")
	fs.String("assignee", "", "Filter by assignee")
	fs.String("search", "", "Case-insensitive match on title, description and comments")
	fs.String("sort", "", "Sort key (priority); default is by ID")
	fs.Bool("porcelain", false, "Stable pipe-separated output")

	return &Command{
		Flags: fs,
		Usage: "list [flags]",
		Short: "List issues",
		Long: `List issues, sorted by ID.

Filters combine: an issue is listed only if it matches every filter given.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execList(ctx, o, cfg, getenv, fs)
		},
	}
}

var errInvalidSort = errors.New("invalid sort key (valid: priority)")

// listFilter selects issues by field. Empty fields match everything.
type listFilter struct {
	status   string
	typ      string
	parent   string
	label    string
	assignee string
	search   string
}

func execList(ctx context.Context, o *IO, cfg *config.Config, getenv func(string) string, fs *flag.FlagSet) error {
	var filter listFilter

	filter.status, _ = fs.GetString("status")
	filter.typ, _ = fs.GetString("type")
	filter.parent, _ = fs.GetString("parent")
	filter.label, _ = fs.GetString("label")
	filter.assignee, _ = fs.GetString("assignee")
	filter.search, _ = fs.GetString("search")
	sortKey, _ := fs.GetString("sort")
	porcelain, _ := fs.GetBool("porcelain")

	if sortKey != "" && sortKey != "priority" {
		return errInvalidSort
	}

	idx, err := loadIndex(ctx, cfg, getenv)
	if err != nil {
		return err
	}

	issues := filter.apply(idx)

	if sortKey == "priority" {
		slices.SortStableFunc(issues, func(a, b *issue.Issue) int {
			return a.Priority - b.Priority
		})
	}

	for _, iss := range issues {
		if porcelain {
			o.Println(formatPorcelainLine(iss))

			continue
		}

		o.Println(formatIssueLine(iss))
	}

	return nil
}

// apply starts from the narrowest bucket the filter names and checks the
// remaining fields on each candidate. The result is sorted by ID.
func (f listFilter) apply(idx *index.Index) []*issue.Issue {
	candidates := idx.Issues()

	switch {
	case f.parent != "":
		candidates = slices.Clone(idx.ByParent[f.parent])
	case f.label != "":
		candidates = slices.Clone(idx.ByLabel[f.label])
	case f.status != "":
		candidates = slices.Clone(idx.ByStatus[f.status])
	case f.typ != "":
		candidates = slices.Clone(idx.ByType[f.typ])
	}

	out := candidates[:0]

	for _, iss := range candidates {
		if f.matches(iss) {
			out = append(out, iss)
		}
	}

	slices.SortFunc(out, func(a, b *issue.Issue) int {
		return strings.Compare(a.ID, b.ID)
	})

	return out
}

func (f listFilter) matches(iss *issue.Issue) bool {
	if f.status != "" && iss.Status != f.status {
		return false
	}

	if f.typ != "" && iss.Type != f.typ {
		return false
	}

	if f.parent != "" && iss.ParentID() != f.parent {
		return false
	}

	if f.label != "" && !slices.Contains(iss.Labels, f.label) {
		return false
	}

	if f.assignee != "" && (iss.Assignee == nil || *iss.Assignee != f.assignee) {
		return false
	}

	if f.search != "" && !matchesSearch(iss, f.search) {
		return false
	}

	return true
}

func matchesSearch(iss *issue.Issue, term string) bool {
	term = strings.ToLower(term)

	if strings.Contains(strings.ToLower(iss.Title), term) || strings.Contains(strings.ToLower(iss.Description), term) {
		return true
	}

	for _, comment := range iss.Comments {
		if strings.Contains(strings.ToLower(comment.Text), term) {
			return true
		}
	}

	return false
}

func loadIndex(ctx context.Context, cfg *config.Config, getenv func(string) string) (*index.Index, error) {
	idx, err := listing.Load(ctx, cfg.EffectiveCwd, listing.Options{
		Config: *cfg,
		Getenv: getenv,
		Client: []daemon.ClientOption{daemon.WithDaemonArgs(daemonArgs(cfg)...)},
	})
	if err != nil {
		return nil, fmt.Errorf("loading issues: %w", err)
	}

	return idx, nil
}

func formatIssueLine(iss *issue.Issue) string {
	var builder strings.Builder

	builder.WriteString(iss.ID)
	builder.WriteString(" [")
	builder.WriteString(iss.Status)
	builder.WriteString("] ")
	fmt.Fprintf(&builder, "P%d %s - ", iss.Priority, iss.Type)
	builder.WriteString(iss.Title)

	if parent := iss.ParentID(); parent != "" {
		builder.WriteString(" (parent: ")
		builder.WriteString(parent)
		builder.WriteString(")")
	}

	if blockers := iss.BlockedBy(); len(blockers) > 0 {
		builder.WriteString(" <- blocked-by: [")
		builder.WriteString(strings.Join(blockers, ", "))
		builder.WriteString("]")
	}

	return builder.String()
}

// formatPorcelainLine renders "T | id | parent | status | P2 | title" with no
// decoration, for scripts.
func formatPorcelainLine(iss *issue.Issue) string {
	typeInitial := ""
	if iss.Type != "" {
		typeInitial = strings.ToUpper(iss.Type[:1])
	}

	parent := iss.ParentID()
	if parent == "" {
		parent = "-"
	}

	return strings.Join([]string{
		typeInitial,
		iss.ID,
		parent,
		iss.Status,
		fmt.Sprintf("P%d", iss.Priority),
		iss.Title,
	}, " | ")
}
