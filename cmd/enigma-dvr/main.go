package main

import (
	"os"

	"EnigmaNetz/Enigma-Go-DVR/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
