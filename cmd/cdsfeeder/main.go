package main

import (
	"context"

	"cdsfeeder/cmd/cdsfeeder/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
