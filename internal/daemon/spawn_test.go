package daemon_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kanbus/internal/daemon"
)

func Test_DefaultCommand_Places_Global_Args_Before_Daemon_Subcommand(t *testing.T) {
	t.Parallel()

	exe, err := os.Executable()
	require.NoError(t, err)

	tests := []struct {
		name   string
		global []string
		want   []string
	}{
		{
			name: "no global args",
			want: []string{"daemon", "--root", "/repo"},
		},
		{
			name:   "work dir and config",
			global: []string{"-C", "/work", "-c", "/work/custom.json"},
			want:   []string{"-C", "/work", "-c", "/work/custom.json", "daemon", "--root", "/repo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd, err := daemon.DefaultCommand("/repo", tt.global...)
			require.NoError(t, err)
			require.Equal(t, exe, cmd.Path)
			require.Equal(t, tt.want, cmd.Args)
			require.Nil(t, cmd.Env)
		})
	}
}
