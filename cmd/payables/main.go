package main

import "github.com/mmynk/payables/internal/cli"

func main() {
	cli.Execute()
}
