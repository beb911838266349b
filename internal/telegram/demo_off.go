//go:build !demo

package telegram

import "time"

const demoBuild = false

// DemoInitData is never accepted in builds without the demo tag.
const DemoInitData = ""

func demoIdentity(time.Time) *Identity {
	return nil
}
