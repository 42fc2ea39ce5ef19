// Command pixelmon-runner runs natural-language UI scenarios against the
// Pixelmon TCG Android app.
package main

import "github.com/devicelab-dev/pixelmon-runner/pkg/cli"

func main() {
	cli.Execute()
}
