package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kanbus/internal/config"
	"github.com/calvinalkan/kanbus/internal/index"
	"github.com/calvinalkan/kanbus/internal/issue"
)

// ShowCmd returns the show command.
func ShowCmd(cfg *config.Config, getenv func(string) string) *Command {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.Bool("json", false, "Print the issue as stored on disk")

	return &Command{
		Flags: fs,
		Usage: "show <id>",
		Args:  []string{"id"},
		Short: "Show issue details",
		Long:  "Display an issue together with its children, blockers and the issues it blocks.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			jsonOutput, _ := fs.GetBool("json")

			return execShow(ctx, o, cfg, getenv, args, jsonOutput)
		},
	}
}

var errIssueNotFound = errors.New("issue not found")

func execShow(ctx context.Context, o *IO, cfg *config.Config, getenv func(string) string, args []string, jsonOutput bool) error {
	id := args[0]

	idx, err := loadIndex(ctx, cfg, getenv)
	if err != nil {
		return err
	}

	iss, ok := idx.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", errIssueNotFound, id)
	}

	for _, blocker := range iss.BlockedBy() {
		if _, exists := idx.Get(blocker); !exists {
			o.Warn(Warning{
				Subject: fmt.Sprintf("%s is blocked by unknown issue %s", id, blocker),
				Fix:     "remove the dependency or restore the missing issue file",
			})
		}
	}

	if jsonOutput {
		data, marshalErr := issue.Marshal(iss)
		if marshalErr != nil {
			return marshalErr
		}

		o.Printf("%s", data)

		return nil
	}

	printIssue(o, idx, iss)

	return nil
}

func printIssue(o *IO, idx *index.Index, iss *issue.Issue) {
	o.Printf("%s [%s] P%d %s\n", iss.ID, iss.Status, iss.Priority, iss.Type)
	o.Println("Title:", iss.Title)

	if parent := iss.ParentID(); parent != "" {
		o.Println("Parent:", parent)
	}

	if iss.Assignee != nil {
		o.Println("Assignee:", *iss.Assignee)
	}

	if len(iss.Labels) > 0 {
		o.Println("Labels:", strings.Join(iss.Labels, ", "))
	}

	if blockers := iss.BlockedBy(); len(blockers) > 0 {
		o.Println("Blocked by:", strings.Join(blockers, ", "))
	}

	if blocks := ids(idx.ReverseDependencies[iss.ID]); len(blocks) > 0 {
		o.Println("Blocks:", strings.Join(blocks, ", "))
	}

	if children := ids(idx.ByParent[iss.ID]); len(children) > 0 {
		o.Println("Children:", strings.Join(children, ", "))
	}

	if iss.Description != "" {
		o.Println()
		o.Println(iss.Description)
	}

	for _, comment := range iss.Comments {
		o.Println()
		o.Printf("%s (%s):\n", comment.Author, comment.CreatedAt.Format("2006-01-02 15:04"))
		o.Println(comment.Text)
	}
}

func ids(issues []*issue.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, iss := range issues {
		out = append(out, iss.ID)
	}

	return out
}
