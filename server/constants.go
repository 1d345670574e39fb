package server

import "github.com/dotside-studios/davi-attendance/buildinfo"

// mDNS service discovery constants. Phones browse for this service type.
var (
	MDNSServiceType = "_davi-attendance._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// Dashboard WebSocket message types.
const (
	WSMessageTypeAlert = "alert"
	WSMessageTypeState = "state"
)

// APIPrefix is the root of the kiosk REST API.
const APIPrefix = "/api/v1"

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

const defaultHistoryLimit = 50
