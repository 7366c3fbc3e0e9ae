package main

import (
	"github.com/metal-toolbox/toolshed/cmd"
)

func main() {
	cmd.Execute()
}
