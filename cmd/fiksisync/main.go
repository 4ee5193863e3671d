package main

import (
	"fiksisync/internal/cli"
)

func main() {
	cli.Execute()
}
