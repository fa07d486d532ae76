package main

import "grill-master/cmd"

func main() {
	cmd.Execute()
}
