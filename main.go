package main

import "github.com/kozaktomas/watchpost/cmd"

func main() {
	cmd.Execute()
}
