package main

import "github.com/MeKo-Tech/slippymap/internal/cmd"

func main() {
	cmd.Execute()
}
