package main

import (
	"log/slog"

	"hdx-scraper-iati/cmd/hdx-scraper-iati/commands"
	"hdx-scraper-iati/lib/serviceutil"
	"hdx-scraper-iati/lib/telemetry"

	"github.com/joho/godotenv"
)

func main() {
	telemetry.InitSlog(false)

	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			slog.Debug("loaded .env", "path", p)
			break
		}
	}

	commands.ExecuteContext(serviceutil.SignalContext())
}
