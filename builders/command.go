package builders

import (
	"os/exec"

	"github.com/mcon-build/mcon"
	"golang.org/x/xerrors"
)

// Command produces a single file by running an external command. The
// command is expected to write the target path itself.
type Command struct {
	mcon.Core
	out     *mcon.File
	sources *mcon.FileSet
	argv    []string
}

// NewCommand declares that running argv produces target from sources.
// sources accepts anything DependsFiles accepts and may be nil for a
// command with no file inputs.
func NewCommand(env *mcon.Environment, target, sources interface{}, argv ...string) (*Command, error) {
	if len(argv) == 0 {
		return nil, xerrors.New("command builder needs a command line")
	}
	b := &Command{argv: argv}
	b.Core = mcon.NewCore(env, b)
	out, err := mcon.AsFile(env, target)
	if err != nil {
		return nil, err
	}
	if err := b.RegisterTarget(out); err != nil {
		return nil, err
	}
	if sources != nil {
		if b.sources, err = b.DependsFiles(sources); err != nil {
			return nil, err
		}
	}
	b.out = out
	return b, nil
}

// Target returns the produced file.
func (b *Command) Target() mcon.Node { return b.out }

// File returns the output file node.
func (b *Command) File() *mcon.File { return b.out }

func (b *Command) Build() error {
	cmd := exec.Command(b.argv[0], b.argv[1:]...)
	cmd.Dir = b.Env().Root
	if out, err := cmd.CombinedOutput(); err != nil {
		return xerrors.Errorf("%v: %v\n%s", cmd.Args, err, out)
	}
	return nil
}
