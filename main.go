package main

import "music-orchestrator/cmd"

func main() {
	cmd.Execute()
}
