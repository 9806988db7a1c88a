package main

import "github.com/ananyateklu/second-brain-go/cmd"

func main() {
	cmd.Execute()
}
