package execctx

import (
	"strings"
	"testing"
)

func TestBuildLocalArgv(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "plain command passes through",
			cmd:  Command{Argv: []string{"systemctl", "start", "nginx"}},
			want: "systemctl start nginx",
		},
		{
			name: "as user wraps with sudo",
			cmd:  Command{Argv: []string{"id"}, AsUser: "coldfront"},
			want: "sudo -u coldfront -- id",
		},
		{
			// env_reset in sudoers strips variables set on the sudo
			// process, so the assignments must follow the identity switch.
			name: "environment survives the identity switch",
			cmd: Command{
				Argv:   []string{"manage", "createsuperuser"},
				AsUser: "coldfront",
				Env:    map[string]string{"DJANGO_SUPERUSER_PASSWORD": "hunter2"},
			},
			want: "sudo -u coldfront -- env DJANGO_SUPERUSER_PASSWORD=hunter2 manage createsuperuser",
		},
		{
			name: "environment sorted",
			cmd: Command{
				Argv:   []string{"true"},
				AsUser: "coldfront",
				Env:    map[string]string{"B": "2", "A": "1"},
			},
			want: "sudo -u coldfront -- env A=1 B=2 true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(buildLocalArgv(tt.cmd), " "); got != tt.want {
				t.Errorf("buildLocalArgv() = %q, want %q", got, tt.want)
			}
		})
	}
}
