package main

import "corridor-router/internal/cli"

func main() {
	cli.Execute()
}
