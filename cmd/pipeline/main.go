package main

import "github.com/JakeFAU/article-pipeline/cmd"

func main() {
	cmd.Execute()
}
