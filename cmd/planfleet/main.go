// Package main provides the entry point for the planfleet CLI.
package main

import "yqhp/planfleet/cmd"

func main() {
	cmd.Execute()
}
