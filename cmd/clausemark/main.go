package main

import "clausemark/api/cmd/clausemark/cmd"

func main() {
	cmd.Execute()
}
