package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/kanbus/internal/cli"
)

func Test_Invalid_Global_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "list")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")
	cli.AssertContains(t, stderr, "Global flags:")
	cli.AssertContains(t, stderr, "--cwd")
	cli.AssertContains(t, stderr, "--config")
	cli.AssertContains(t, stderr, "--no-daemon")
}

func Test_Bare_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	exitCode := cli.Run(nil, &stdout, &stderr, []string{"kanbus"}, nil, nil)

	if got, want := exitCode, 0; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stderr.String(), ""; got != want {
		t.Errorf("stderr=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stdout.String(), "kanbus - issue tracker for the project/ directory")
	cli.AssertContains(t, stdout.String(), "list [flags]")
	cli.AssertContains(t, stdout.String(), "show <id>")
	cli.AssertContains(t, stdout.String(), "daemon --root <dir>")
}

func Test_Unknown_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Command_Help_When_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("list", "--help")

	cli.AssertContains(t, stdout, "Usage: kanbus list [flags]")
	cli.AssertContains(t, stdout, "--status")
	cli.AssertContains(t, stdout, "--label")
}

func Test_Command_Flag_Error_Prints_Help_To_Stderr(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("ready", "--bogus")

	cli.AssertContains(t, stderr, "unknown flag: --bogus")
	cli.AssertContains(t, stderr, "Usage: kanbus ready [flags]")
}

func Test_Command_Rejects_Extra_Positional_Args_When_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	stderr := c.MustFail("list", "kb-1")
	cli.AssertContains(t, stderr, `unexpected argument "kb-1"`)
	cli.AssertContains(t, stderr, "Usage: kanbus list [flags]")

	stderr = c.MustFail("show", "kb-1", "kb-2")
	cli.AssertContains(t, stderr, `unexpected argument "kb-2"`)
}

func Test_Command_Help_Lists_Positional_Args_When_Command_Takes_Them(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("show", "--help")

	cli.AssertContains(t, stdout, "Usage: kanbus show <id>")
	cli.AssertContains(t, stdout, "Arguments:\n  <id>")
}

func Test_Explicit_Config_Missing_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("-c", "missing.json", "list")

	cli.AssertContains(t, stderr, "config file not found")
}

func Test_Print_Config_Shows_Defaults_And_Sources(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "effective_cwd="+c.Dir)
	cli.AssertContains(t, stdout, "daemon=true")
	cli.AssertContains(t, stdout, "daemon_spawn_retries=50")
	cli.AssertContains(t, stdout, "(defaults only)")

	err := os.WriteFile(filepath.Join(c.Dir, ".kanbus.json"), []byte(`{"index_workers": 4, /* jsonc */ "daemon": false}`), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	stdout = c.MustRun("print-config")

	cli.AssertContains(t, stdout, "index_workers=4")
	cli.AssertContains(t, stdout, "daemon=false")
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, ".kanbus.json"))
}

func Test_No_Daemon_Flag_Overrides_Config(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("--no-daemon", "print-config")

	cli.AssertContains(t, stdout, "daemon=false")
}

func Test_Environ_Builds_Map_When_Given_Process_Environment(t *testing.T) {
	t.Parallel()

	got := cli.Environ([]string{
		"HOME=/home/kb",
		"KANBUS_NO_DAEMON=1",
		"EMPTY=",
		"WITH_EQUALS=a=b",
		"HOME=/shadowed",
		"=C:=C:\\",
		"NOVALUE",
	})

	want := map[string]string{
		"HOME":             "/home/kb",
		"KANBUS_NO_DAEMON": "1",
		"EMPTY":            "",
		"WITH_EQUALS":      "a=b",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Environ() mismatch (-want +got):\n%s", diff)
	}
}
