package main

import (
	"fmt"

	"github.com/quoin-dev/scuttle/cli"
)

func main() {
	if err := cli.Start(); err != nil {
		fmt.Println(err)
	}
}
