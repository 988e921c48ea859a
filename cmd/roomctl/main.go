package main

import "gitlab.com/secp/services/syncroom/cmd/roomctl/cmd"

func main() {
	cmd.Execute()
}
