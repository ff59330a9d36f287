package main

import "repovec/cmd"

func main() {
	cmd.Execute()
}
