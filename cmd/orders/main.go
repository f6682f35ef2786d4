package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mrblonde/orders/pkg/cli"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := cli.NewRootCommand(stdout)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "orders: %v\n", err)
		return 1
	}
	return 0
}
