package main

import "github.com/dukerupert/mealmood/internal/cli"

func main() {
	cli.Execute()
}
