// tollbooth is the operator CLI for the tollbooth certification authority:
// signing key generation, certificate purchase and offline verification, and
// status checks against a running authority.
package main

import "github.com/dpyc-network/tollbooth-authority/internal/cli"

func main() {
	cli.Execute()
}
