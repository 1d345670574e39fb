package kiosk

import (
	"sync"
	"time"
)

// AlertKind classifies an alert for front ends.
type AlertKind string

const (
	AlertError   AlertKind = "error"
	AlertSuccess AlertKind = "success"
	AlertInfo    AlertKind = "info"
)

// Alert is a blocking message shown to the person at the kiosk.
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Action  Action    `json:"action,omitempty"`
	Time    time.Time `json:"time"`
}

// Alert messages.
const (
	MsgNotSupported   = "NFC is not supported on this device"
	MsgNotEnabled     = "NFC is not enabled. Turn on NFC in the reader settings."
	MsgUnreadable     = "Could not read the NFC tag"
	MsgScanFailed     = "NFC tag scan failed"
	MsgCheckInDone    = "Check-in complete"
	MsgCheckOutDone   = "Check-out complete"
	MsgStatusCheckIn  = "Current status: checked in"
	MsgStatusCheckOut = "Current status: checked out"
)

const statusTitle = "Attendance status"

type alertHub struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(Alert)
}

func (h *alertHub) subscribe(fn func(Alert)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listeners == nil {
		h.listeners = make(map[int]func(Alert))
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

func (h *alertHub) publish(a Alert) {
	h.mu.RLock()
	fns := make([]func(Alert), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(a)
	}
}
