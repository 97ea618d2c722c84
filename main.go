package main

import "linklog/cmd"

func main() {
	cmd.Execute()
}
