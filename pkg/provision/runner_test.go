package provision

import (
	"context"
	"io/fs"
	"strings"

	"github.com/orcd/portalctl/pkg/execctx"
)

// fakeRunner records invocations and answers them through respond.
type fakeRunner struct {
	target  execctx.Target
	dryRun  bool
	calls   []execctx.Command
	writes  []fakeWrite
	respond func(cmd execctx.Command) (execctx.Result, error)
}

type fakeWrite struct {
	path string
	data []byte
	mode fs.FileMode
}

func (f *fakeRunner) Run(_ context.Context, cmd execctx.Command) (execctx.Result, error) {
	f.calls = append(f.calls, cmd)
	if f.respond != nil {
		return f.respond(cmd)
	}
	return execctx.Result{}, nil
}

func (f *fakeRunner) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	f.writes = append(f.writes, fakeWrite{path: path, data: data, mode: mode})
	return nil
}

func (f *fakeRunner) Target() execctx.Target { return f.target }
func (f *fakeRunner) DryRun() bool           { return f.dryRun }

// lines renders the recorded command lines for assertions.
func (f *fakeRunner) lines() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c.Argv, " ")
	}
	return out
}
