package main

import "github.com/KevinKickass/OpenRVCore/internal/cli"

func main() {
	cli.Execute()
}
