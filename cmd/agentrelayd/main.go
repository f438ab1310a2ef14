// Command agentrelayd is the gateway binary: running it bare starts the
// server; see `agentrelayd --help` for the version/doctor/migrate/pairing
// subcommands.
package main

import "github.com/agentrelay/gateway/cmd"

func main() {
	cmd.Execute()
}
