package main

import "github.com/MeKo-Tech/textpipe/cmd/textpipe/cmd"

func main() {
	cmd.Execute()
}
