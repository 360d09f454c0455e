// Package construct is the command-line front end for mcon construct
// programs. A construct program is a small Go main that assembles the
// dependency graph and hands control here:
//
//	func main() {
//		construct.Main(func(ex *mcon.Execution) error {
//			env := mcon.NewEnvironment(ex)
//			// ... create builders, register aliases ...
//			return nil
//		})
//	}
package construct

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/mattn/go-isatty"
	"github.com/mcon-build/mcon"
)

const mainHelp = `%s [-flags] target...

Build the given targets. Targets are alias names or paths.

`

// Main parses flags, runs the setup function to construct the graph,
// and builds the requested targets. It exits the process: 0 on
// success, nonzero on any build error.
func Main(setup func(*mcon.Execution) error) {
	os.Exit(run(setup, os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}

func run(setup func(*mcon.Execution) error, argv0 string, args []string, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet(argv0, flag.ExitOnError)
	var (
		dryRun     = fset.Bool("dry_run", false, "print the build plan, touch nothing")
		tree       = fset.Bool("tree", false, "print the target dependency tree before building")
		jobs       = fset.Int("jobs", 1, "number of parallel jobs to run (0 = one per CPU)")
		alwaysMake bool
	)
	fset.BoolVar(&alwaysMake, "B", false, "rebuild all targets, regardless of whether they need to be built or not")
	fset.BoolVar(&alwaysMake, "always_make", false, "alias for -B")
	fset.Usage = func() {
		fmt.Fprintf(stderr, mainHelp, argv0)
		fset.PrintDefaults()
	}
	fset.Parse(args)
	if fset.NArg() == 0 {
		fset.Usage()
		return 2
	}

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	ex, err := mcon.NewExecution(wd)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer ex.Close()

	mcon.SetCurrent(ex)
	err = setup(ex)
	mcon.SetCurrent(nil)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	prepared, err := ex.PrepareBuild(fset.Args())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if *tree {
		unicode := false
		if f, ok := stdout.(*os.File); ok {
			unicode = isatty.IsTerminal(f.Fd())
		}
		PrintTree(stdout, prepared, unicode)
	}

	if alwaysMake {
		prepared.ForceAll()
	}

	if *jobs == 0 {
		*jobs = runtime.NumCPU()
	}
	if err := ex.Build(prepared, mcon.BuildOptions{DryRun: *dryRun, Jobs: *jobs}); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
