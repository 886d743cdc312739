package main

import "github.com/ramory-l/wsrooms/cmd/wsrooms/commands"

func main() {
	commands.Execute()
}
