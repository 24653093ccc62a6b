package telegram

import "ex-mimic/pkg/otogi"

const (
	// DriverType is the configured driver type token for the Telegram runtime.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform produced by the Telegram runtime.
	DriverPlatform otogi.Platform = otogi.PlatformTelegram
)
