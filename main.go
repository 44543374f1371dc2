package main

import "github.com/sentinel/securitygate/cmd"

func main() {
	cmd.Execute()
}
