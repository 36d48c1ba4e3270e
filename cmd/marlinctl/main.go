// Command marlinctl is Marlin's CLI front door (spec.md §1's "CLI UX"
// supervisor surface), a markbates/grift task runner in the shape of
// the teacher's own cmd/grift/main.go: tasks self-register via init()
// and marlinctl just resolves a name off argv and runs it.
package main

import (
	"fmt"
	"os"

	"github.com/markbates/grift/grift"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if os.Args[1] == "list" {
		printTaskList()
		return
	}

	taskName := os.Args[1]
	args := os.Args[2:]

	ctx := grift.NewContext(taskName)
	ctx.Args = args

	if err := grift.Run(taskName, ctx); err != nil {
		fmt.Fprintf(os.Stderr, "marlinctl: %s: %v\n", taskName, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: marlinctl [namespace:]task [args...]")
	fmt.Println()
	fmt.Println("Available tasks:")
	fmt.Println("  marlin:serve            - Run the server from a config file")
	fmt.Println("  marlin:sites:list       - List the sites a config file would create")
	fmt.Println("  marlin:config:validate  - Validate a config file's Server section")
	fmt.Println("  marlin:rewrite:verify   - Evaluate a config file's rewrite rules against a URL")
	fmt.Println()
	fmt.Println("Use 'marlinctl list' to see every registered task")
}

func printTaskList() {
	tasks := grift.List()
	if len(tasks) == 0 {
		fmt.Println("No tasks registered")
		return
	}
	for _, task := range tasks {
		fmt.Println(task)
	}
}
