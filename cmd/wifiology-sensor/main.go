// Command wifiology-sensor captures 802.11 frames in monitor mode,
// aggregates and persists measurements locally, and ships them to a
// central collector.
package main

import (
	"github.com/wifiology/sensor/cmd/wifiology-sensor/commands"
)

func main() {
	commands.Execute()
}
