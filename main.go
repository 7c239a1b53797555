package main

import "github.com/frahmantamala/facilities-console/cmd"

func main() {
	cmd.Execute()
}
