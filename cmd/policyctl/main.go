package main

import "github.com/filipexyz/authpolicy/internal/cli/cmd"

func main() {
	cmd.Execute()
}
