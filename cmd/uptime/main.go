package main

import "github.com/vietddude/uptime/internal/cli"

func main() {
	cli.Execute()
}
