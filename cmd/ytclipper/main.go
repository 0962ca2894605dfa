package main

import "github.com/forPelevin/ytclipper/internal/cli"

func main() {
	cli.Main()
}
