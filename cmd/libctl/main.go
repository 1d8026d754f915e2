// Command libctl is the operator CLI for the library circulation core.
package main

import "github.com/tbourn/go-circulation-backend/cmd/libctl/commands"

func main() {
	commands.Execute()
}
