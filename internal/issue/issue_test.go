package issue_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/kanbus/internal/issue"
)

func Test_Parse_Fills_Empty_Collections_When_Fields_Omitted(t *testing.T) {
	t.Parallel()

	iss, err := issue.Parse([]byte(`{"id":"tsk-1","title":"T","type":"task","status":"open","priority":2}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if iss.Labels == nil || iss.Dependencies == nil || iss.Comments == nil || iss.Custom == nil {
		t.Fatalf("collections should be non-nil: %+v", iss)
	}

	if iss.ParentID() != "" {
		t.Fatalf("parent = %q, want empty", iss.ParentID())
	}
}

func Test_Parse_Returns_Error_When_Required_Field_Missing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"id", `{"title":"T","type":"task","status":"open"}`},
		{"title", `{"id":"a","type":"task","status":"open"}`},
		{"type", `{"id":"a","title":"T","status":"open"}`},
		{"status", `{"id":"a","title":"T","type":"task"}`},
		{"dependency target", `{"id":"a","title":"T","type":"task","status":"open","dependencies":[{"type":"blocked-by"}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := issue.Parse([]byte(tc.data))
			if !errors.Is(err, issue.ErrMissingField) {
				t.Fatalf("err = %v, want ErrMissingField", err)
			}
		})
	}
}

func Test_ReadFile_Returns_Error_When_File_Is_Not_JSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")

	err := os.WriteFile(path, []byte("{not json"), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	_, err = issue.ReadFile(path)
	if !errors.Is(err, issue.ErrInvalidIssue) {
		t.Fatalf("err = %v, want ErrInvalidIssue", err)
	}
}

func Test_BlockedBy_Returns_Only_Blocked_By_Targets_When_Mixed(t *testing.T) {
	t.Parallel()

	iss := &issue.Issue{Dependencies: []issue.Dependency{
		{Target: "a", Type: issue.DependencyBlockedBy},
		{Target: "b", Type: issue.DependencyRelatesTo},
		{Target: "c", Type: issue.DependencyBlockedBy},
	}}

	got := iss.BlockedBy()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("blocked by = %v, want [a c]", got)
	}
}

func Test_Marshal_Roundtrips_Through_ReadFile_When_Written(t *testing.T) {
	t.Parallel()

	parent := "tsk-parent"
	in := &issue.Issue{
		ID: "tsk-child", Title: "Child", Type: "task", Status: "open", Priority: 1,
		Parent: &parent, Labels: []string{"x"}, Dependencies: []issue.Dependency{},
		Comments: []issue.Comment{}, Custom: map[string]any{},
	}

	data, err := issue.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "tsk-child.json")

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		t.Fatal(err)
	}

	got, err := issue.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got.ID != in.ID || got.ParentID() != parent || len(got.Labels) != 1 {
		t.Fatalf("got %+v", got)
	}
}
