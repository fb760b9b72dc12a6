package main

import (
	"fmt"
	"os"
)

func main() {
	if err := executeCLI(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`runbot - approval-gated run orchestration

Usage:
  runbot <command> [flags]

Commands:
  submit       Create a run from a goal
  enqueue      Submit a run through the background queue
  status       Print run status
  list         List runs
  audit        Print the audit log for a run
  decide       Approve or reject a proposed action
  rerun        Clone a rejected action for another approval round
  metrics      Print evaluation metrics
  policy-init  Write a default policy file
  serve        Run the HTTP API server and queue worker

Run "runbot <command> --help" for details on a command.`)
}
