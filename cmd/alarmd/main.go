package main

import "github.com/technosupport/ts-alarms/cmd/alarmd/cmd"

func main() {
	cmd.Execute()
}
