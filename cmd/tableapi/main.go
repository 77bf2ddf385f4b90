// Command tableapi inspects and loads tabular files without running the
// HTTP server. It shares configuration and storage with the server.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:]))
}
