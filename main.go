package main

import "github.com/tanq16/segload/cmd"

func main() {
	cmd.Execute()
}
