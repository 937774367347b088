package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kanbus/internal/config"
	"github.com/calvinalkan/kanbus/internal/issue"
)

// ReadyCmd returns the ready command.
func ReadyCmd(cfg *config.Config, getenv func(string) string) *Command {
	fs := flag.NewFlagSet("ready", flag.ContinueOnError)
	fs.Bool("json", false, "Output as JSON array")
	fs.Int("limit", 0, "Maximum issues to show (0 = no limit)")

	return &Command{
		Flags: fs,
		Usage: "ready [flags]",
		Short: "List issues that can be worked on now",
		Long: `List issues that can be worked on now.

An issue is ready if it is not closed and has no blocked-by dependencies.

Output sorted by priority (lowest number first), then by ID.

Examples:
  kanbus ready                # List all ready issues
  kanbus ready --limit 1      # Show only the top priority issue
  kanbus ready --json         # Output as JSON array`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			jsonOutput, _ := fs.GetBool("json")
			limit, _ := fs.GetInt("limit")

			return execReady(ctx, o, cfg, getenv, jsonOutput, limit)
		},
	}
}

var errNegativeLimit = errors.New("--limit must be non-negative")

func execReady(ctx context.Context, o *IO, cfg *config.Config, getenv func(string) string, jsonOutput bool, limit int) error {
	if limit < 0 {
		return errNegativeLimit
	}

	idx, err := loadIndex(ctx, cfg, getenv)
	if err != nil {
		return err
	}

	ready := idx.Ready()

	slices.SortStableFunc(ready, func(a, b *issue.Issue) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}

		return strings.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	if jsonOutput {
		if ready == nil {
			ready = []*issue.Issue{}
		}

		data, marshalErr := json.Marshal(ready)
		if marshalErr != nil {
			return fmt.Errorf("marshal json: %w", marshalErr)
		}

		o.Println(string(data))

		return nil
	}

	if len(ready) == 0 {
		o.ErrPrintln("no issues ready")

		return nil
	}

	for _, iss := range ready {
		o.Println(formatIssueLine(iss))
	}

	return nil
}
