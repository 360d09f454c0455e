// mcon-demo is an example construct program: it stages the sources
// under src/ into a build directory and packs them into a tarball.
//
//	mcon-demo -tree dist
package main

import (
	"github.com/mcon-build/mcon"
	"github.com/mcon-build/mcon/builders"
	"github.com/mcon-build/mcon/construct"
)

func main() {
	construct.Main(func(ex *mcon.Execution) error {
		env := mcon.NewEnvironment(ex)

		srcs, err := env.Dir("src")
		if err != nil {
			return err
		}
		install, err := builders.NewInstallFiles(env, "build/stage", srcs, "src", "")
		if err != nil {
			return err
		}
		ball, err := builders.NewTarball(env, "build/dist/src.tar.gz", install)
		if err != nil {
			return err
		}

		if err := ex.RegisterAlias("stage", install); err != nil {
			return err
		}
		return ex.RegisterAlias("dist", ball)
	})
}
