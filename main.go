package main

import "github.com/credmart/credmart/cmd"

func main() {
	cmd.Execute()
}
