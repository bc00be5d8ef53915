package main

import "github.com/corvidlabs/msgbridge/cmd"

func main() {
	cmd.Execute()
}
