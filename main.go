package main

import "github.com/soundsend/build-tools/cmd"

func main() {
	cmd.Execute()
}
