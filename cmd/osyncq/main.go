// Command osyncq drives osyncq channels from the shell.
//
// Usage:
//
//	osyncq serve <channel>          answer requests as the plugin side
//	osyncq ping <channel> -n 10     send requests as the engine side
//	osyncq status --addr URL        query a running admin server
//	osyncq journal --path FILE      dump a stopped process's journal
package main

func main() {
	Execute()
}
