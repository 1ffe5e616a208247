package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lguibr/twothread/bollywood"
	"github.com/lguibr/twothread/cli"
)

func main() {
	err := cli.New().Execute(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(bollywood.ExitCode(err))
}
