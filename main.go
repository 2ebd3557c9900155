package main

import "github.com/agentic-research/topoproc/cmd"

func main() {
	cmd.Execute()
}
