//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed. RTSCENE_CONFIG and RTSCENE_FRAMES are forwarded as flags.
func (Run) Testbed() error {
	mg.Deps(Vet)
	args := []string{"run", "."}
	if cfg := os.Getenv("RTSCENE_CONFIG"); cfg != "" {
		args = append(args, "-config", cfg)
	}
	if frames := os.Getenv("RTSCENE_FRAMES"); frames != "" {
		args = append(args, "-frames", frames)
	}
	fmt.Println("Run testbed...")
	if _, err := executeCmd("go", withArgs(args...), withStream()); err != nil {
		return err
	}
	return nil
}
