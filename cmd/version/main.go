package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"battlescope/pkg/version"
)

const usage = `BattleScope version tool

Usage: version <command>

Commands:
  info, i     detailed build information
  current, c  version string
  json, j     build information as JSON
  help, h     this message
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "info", "i":
		fmt.Println(version.GetBuildInfo())
	case "current", "c":
		fmt.Println(version.GetVersionString())
	case "json", "j":
		data, err := json.MarshalIndent(version.Get(), "", "  ")
		if err != nil {
			log.Fatalf("Error encoding JSON: %v", err)
		}
		fmt.Println(string(data))
	case "help", "h", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Printf("Error: unknown command %q\n\n", os.Args[1])
		fmt.Print(usage)
		os.Exit(1)
	}
}
