package main

import (
	"narrascope/cmd/cmd"
)

func main() {
	cmd.Execute()
}
