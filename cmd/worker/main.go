package main

import "github.com/ramiqadoumi/go-task-lease/services/worker/cli"

func main() {
	cli.Execute()
}
