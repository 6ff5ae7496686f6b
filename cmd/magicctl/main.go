// Command magicctl is the CLI client for magicd's control-plane API.
package main

import (
	"github.com/skyline-avionics/magic/cmd/magicctl/commands"
)

func main() {
	commands.Execute()
}
