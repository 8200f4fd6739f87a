package main

import (
	"github.com/pilacorp/go-substrate-did-sdk/cmd/peaq-did/command"
)

func main() {
	command.NewRootCommand().Execute()
}
