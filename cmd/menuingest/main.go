package main

import "github.com/JakeFAU/realtime-menu-ingest/cmd"

func main() {
	cmd.Execute()
}
