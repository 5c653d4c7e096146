// Command txctl drives the transaction engine against the configured
// persistence and blob backends.
package main

func main() {
	execute()
}
