// ./main.go
package main

import (
	"github.com/xkilldash9x/magpie-cli/cmd"
)

// main is the go-run entry point for the magpie CLI. The installed binary
// is built from cmd/magpie.
func main() {
	cmd.Main()
}
