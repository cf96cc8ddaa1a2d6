package main

import (
	"spread-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
