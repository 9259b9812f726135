package main

import "github.com/stwalsh4118/reach/internal/cli"

func main() {
	cli.Execute()
}
