package main

import "github.com/vietddude/steady/internal/cli"

func main() {
	cli.Execute()
}
