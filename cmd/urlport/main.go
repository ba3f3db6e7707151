package main

import "urlport/internal/cli/cmd"

func main() {
	cmd.Execute()
}
