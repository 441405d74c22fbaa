package main

import "github.com/DoyleJ11/battle-backend/internal/cli"

func main() {
	cli.Execute()
}
