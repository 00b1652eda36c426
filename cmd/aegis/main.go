package main

import "github.com/fe-row/AEGIS/cmd/aegis/cmd"

func main() {
	cmd.Execute()
}
