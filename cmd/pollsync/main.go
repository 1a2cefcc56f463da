package main

import "github.com/ramiqadoumi/go-poll-sync/services/watcher/cli"

func main() {
	cli.Execute()
}
