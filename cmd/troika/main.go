package main

import (
	"fmt"
	"os"
)

func main() {
	opts, err := ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(opts))
}
