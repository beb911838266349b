//go:build demo

package telegram

import (
	"time"

	"github.com/navigapp/navigapp-server-go/internal/model"
)

const demoBuild = true

// DemoInitData is accepted in place of signed init data when demo identity is enabled.
const DemoInitData = "demo-init-data"

func demoIdentity(now time.Time) *Identity {
	return &Identity{
		User: model.TelegramUser{
			ID:           123456789,
			FirstName:    "Demo",
			LastName:     "User",
			Username:     "demo_user",
			LanguageCode: "en",
		},
		AuthDate: now,
		Demo:     true,
	}
}
