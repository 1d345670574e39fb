package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Reader backends.
const (
	BackendLibNFC = "libnfc"
	BackendPhone  = "phone"
	BackendMock   = "mock"
)

const (
	defaultTimeoutSeconds = 10
	defaultPollIntervalMS = 250
	defaultPort           = 18080
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		API: API{
			BaseURL:        "http://localhost:3000/api",
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Reader: Reader{
			Backend:        BackendLibNFC,
			AlertMessage:   "Hold your ID card near the reader",
			PollIntervalMS: defaultPollIntervalMS,
		},
		Server: Server{
			Bind:          "0.0.0.0",
			Port:          defaultPort,
			MDNS:          true,
			RatePerSecond: 2,
		},
		Journal: Journal{
			Path: defaultJournalPath(),
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

func defaultJournalPath() string {
	if base, ok := os.LookupEnv("XDG_DATA_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "davi-attendance", "journal.db")
	}
	return "~/.local/share/davi-attendance/journal.db"
}
