package main

import "ragcompare/client/ragcompare-cli/cmd"

func main() {
	cmd.Execute()
}
