package main

import "github.com/Rom0219/EDR-ringdown-search/cmd"

func main() {
	cmd.Execute()
}
