package main

import (
	"github.com/robotalks/devlink/pkg/cli/sh"
	"github.com/robotalks/devlink/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
