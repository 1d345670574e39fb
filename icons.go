package main

import _ "embed"

var (
	//go:embed assets/icon.png
	iconData []byte

	//go:embed assets/icon_ready.png
	iconDataReady []byte

	//go:embed assets/icon_busy.png
	iconDataBusy []byte

	//go:embed assets/icon_error.png
	iconDataError []byte
)
