package main

import "github.com/JakeFAU/regionpulse/cmd"

func main() {
	cmd.Execute()
}
