package main

import "stride-etl/cmd/cli"

func main() {
	cli.Execute()
}
