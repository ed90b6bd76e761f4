package main

import "github.com/FluidXR/questlink/cmd"

func main() {
	cmd.Execute()
}
