package main

import "github.com/mselser95/atomic-exec/cmd"

func main() {
	cmd.Execute()
}
