// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a transient, user-visible message.
type Notification struct {
	Level   Level
	Kind    Kind
	Message string
}

// Notifier receives notifications from the orchestrator. Implementations must
// not block; Notify is called on the sending goroutine.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// levelFor maps a failure kind to its notification level.
func levelFor(k Kind) Level {
	switch k {
	case KindRateLimited, KindQuotaExhausted:
		return LevelWarning
	default:
		return LevelError
	}
}
