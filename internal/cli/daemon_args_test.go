package cli

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/kanbus/internal/config"
)

func Test_DaemonArgs_Forwards_Work_Dir_And_Config_File(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.Config
		want []string
	}{
		{
			name: "work dir only",
			cfg:  config.Config{EffectiveCwd: "/work"},
			want: []string{"-C", "/work"},
		},
		{
			name: "explicit config",
			cfg:  config.Config{EffectiveCwd: "/work", Sources: config.Sources{Project: "/etc/kanbus.json"}},
			want: []string{"-C", "/work", "-c", "/etc/kanbus.json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if diff := cmp.Diff(tt.want, daemonArgs(&tt.cfg)); diff != "" {
				t.Fatalf("daemonArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
