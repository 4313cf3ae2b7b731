package main

import "github.com/nethalo/tableshift/cmd"

func main() {
	cmd.Execute()
}
