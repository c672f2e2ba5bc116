package main

import "github.com/promptloom/promptloom/internal/cli"

func main() {
	cli.Execute()
}
