package main

import "github.com/mylifebyai/mlbai/app/mlbai-cli/cmd"

func main() {
	cmd.Execute()
}
