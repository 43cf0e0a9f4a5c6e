package main

import (
	"github.com/MeKo-Tech/dvo/cmd/dvo/cmd"
)

func main() {
	cmd.Execute()
}
