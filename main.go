package main

import "github.com/Davincible/anthropic-openai-gateway/cmd"

func main() {
	cmd.Execute()
}
