package main

import "github.com/WikiSubmission/wikisubmission-discord-public/cmd"

func main() {
	cmd.Execute()
}
