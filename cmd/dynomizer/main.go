// dynomizer is a CLI for migrating DynamoDB table schemas between
// versioned model definitions.
//
// # Commands
//
//	dynomizer migrate   Apply model versions to a live table
//	dynomizer status    Show a table's migration state
//	dynomizer reset     Drop a table's migration-state record
//
// # Quick Start
//
// Put one model per YAML file under a models directory:
//
//	name: Orders
//	version: 2
//	partitionKey: {name: orderId, kind: S}
//	billing: PAY_PER_REQUEST
//	gsis:
//	  byCustomer:
//	    partitionKey: {name: customerId, kind: S}
//
// Then migrate:
//
//	dynomizer migrate --table Orders --to 2 --models "models/orders/*.yaml"
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	// Remove the subcommand from args so flag parsing works
	os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

	var err error
	switch cmd {
	case "migrate":
		err = runMigrate()
	case "status":
		err = runStatus()
	case "reset":
		err = runReset()
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("dynomizer version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "dynomizer: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "dynomizer %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`dynomizer - DynamoDB schema migrations

Usage:
  dynomizer <command> [flags]

Commands:
  migrate  Apply model versions to a live table
  status   Show a table's migration state
  reset    Drop a table's migration-state record

Examples:
  # Migrate Orders to model version 3:
  dynomizer migrate --table Orders --to 3 --models "models/orders/*.yaml"

  # Check where a table is at:
  dynomizer status --table Orders

Configuration (optional):
  Create dynomizer.yaml for defaults:

    models: models/orders/*.yaml   # model file glob
    stateTable: dynomizer-state    # migration-state table
    stateDir: ""                   # local state dir (instead of stateTable)
    region: eu-north-1

Run 'dynomizer <command> --help' for more information on a command.`)
}
