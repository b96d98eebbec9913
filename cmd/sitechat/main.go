// Command sitechat indexes a website's sitemap into a vector store and answers
// visitor questions over a streaming chat endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/sitechat-go/cmd/sitechat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
