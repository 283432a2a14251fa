// Command soadctl is a configuration inspection CLI for the soad daemon. It
// operates entirely on a locally loaded configuration file; it holds no
// connection to a running daemon.
package main

import "github.com/soad-project/soad/cmd/soadctl/commands"

func main() {
	commands.Execute()
}
