package main

import "github.com/storefront/shopauth/cmd/shopauth/cmd"

func main() {
	cmd.Execute()
}
