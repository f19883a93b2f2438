package main

import "github.com/goldstake/stakebridge/cmd"

func main() {
	cmd.Execute()
}
