// Command quillchat is a terminal client and relay for the Quillium chat backend.
package main

import "github.com/diogo/quillchat/internal/commands"

func main() {
	commands.Execute()
}
