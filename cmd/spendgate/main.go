package main

import "github.com/ppiankov/spendgate/internal/cli"

func main() {
	cli.Execute()
}
