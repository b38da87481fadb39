package main

import "github.com/toll-gate/tollgate/cmd/tollgate/cmd"

func main() {
	cmd.Execute()
}
