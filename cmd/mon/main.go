// Command mon runs a shell command and restarts it when it exits.
package main

import "github.com/oarkflow/mon"

func main() {
	mon.Execute()
}
