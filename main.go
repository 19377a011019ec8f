package main

import "github.com/kychandar/evwire/cmd"

func main() {
	cmd.Execute()
}
