package main

import "heifpress/cmd"

func main() {
	cmd.Execute()
}
