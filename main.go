package main

import "github.com/hildvein/usagevault/cmd"

func main() {
	cmd.Execute()
}
