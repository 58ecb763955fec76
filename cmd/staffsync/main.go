// Package main provides the staffsync CLI, which copies staff profiles from the
// university directory into the research-information registry.
package main

import "github.com/mscno/staffsync/cmd/staffsync/commands"

func main() {
	commands.Execute(Version)
}
