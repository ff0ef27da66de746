// The main package for the sitescanner executable.
package main

import (
	"github.com/tracklens/sitescanner/cmd"
)

func main() {
	cmd.Execute()
}
