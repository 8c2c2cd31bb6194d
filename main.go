package main

import "github.com/nmn/roap-signal/cmd"

func main() {
	cmd.Execute()
}
