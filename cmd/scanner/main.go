package main

import "github.com/piisentry/scanner/cmd/scanner/commands"

func main() {
	commands.Execute()
}
