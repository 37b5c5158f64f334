// File: cmd/magpie/main.go
package main

import (
	"github.com/xkilldash9x/magpie-cli/cmd"
)

// main is the canonical entry point: go install github.com/xkilldash9x/magpie-cli/cmd/magpie
func main() {
	cmd.Main()
}
