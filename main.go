package main

import "github.com/jmehdipour/keygate/cmd"

func main() {
	cmd.Execute()
}
