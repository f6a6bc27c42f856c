package main

import "github.com/metal-toolbox/rackstab/cmd"

func main() {
	cmd.Execute()
}
