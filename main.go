package main

import "github.com/mongofuse/mongofuse/cmd"

func main() {
	cmd.Execute()
}
