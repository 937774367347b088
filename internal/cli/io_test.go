package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_IO_Prints_Warnings_Around_Output_When_Stdout_Written(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer

	o := NewIO(&out, &errOut)
	o.Warn(Warning{Subject: "kb-1 is blocked by unknown issue kb-9", Fix: "restore kb-9"})
	o.Println("kb-1")
	o.Println("kb-2")

	if got, want := o.Finish(), 1; got != want {
		t.Fatalf("Finish()=%d, want=%d", got, want)
	}

	want := "warning: kb-1 is blocked by unknown issue kb-9 (fix: restore kb-9)\n"
	if diff := cmp.Diff(want+want, errOut.String()); diff != "" {
		t.Fatalf("stderr mismatch (-want +got):\n%s", diff)
	}

	if got := out.String(); got != "kb-1\nkb-2\n" {
		t.Fatalf("stdout=%q", got)
	}
}

func Test_IO_Prints_Warnings_Once_When_Nothing_Written(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer

	o := NewIO(&out, &errOut)
	o.Warn(Warning{Subject: "no fix given"})

	if got, want := o.Finish(), 1; got != want {
		t.Fatalf("Finish()=%d, want=%d", got, want)
	}

	if got := strings.Count(errOut.String(), "warning: no fix given\n"); got != 1 {
		t.Fatalf("warning printed %d times, want 1\nstderr: %s", got, errOut.String())
	}

	if diff := cmp.Diff([]Warning{{Subject: "no fix given"}}, o.Warnings()); diff != "" {
		t.Fatalf("Warnings() mismatch (-want +got):\n%s", diff)
	}
}

func Test_IO_Finish_Returns_Zero_When_No_Warnings(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer

	o := NewIO(&out, &errOut)
	o.Println("ok")

	if got := o.Finish(); got != 0 {
		t.Fatalf("Finish()=%d, want=0", got)
	}

	if errOut.Len() != 0 {
		t.Fatalf("stderr=%q, want empty", errOut.String())
	}
}
