package main

import "github.com/dayuer/botrelay/cmd"

func main() {
	cmd.Execute()
}
