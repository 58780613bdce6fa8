// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every argument error. Validation failures never
// change state.
var ErrValidation = errors.New("invalid argument")

// Argument errors.
var (
	ErrEmptyMessage       = fmt.Errorf("%w: message text and attachments are both empty", ErrValidation)
	ErrEmptyTitle         = fmt.Errorf("%w: title is empty", ErrValidation)
	ErrUnknownModel       = fmt.Errorf("%w: unknown model", ErrValidation)
	ErrInvalidTier        = fmt.Errorf("%w: thinking tier not supported by model", ErrValidation)
	ErrInvalidTemperature = fmt.Errorf("%w: temperature must be between 0 and 2", ErrValidation)
	ErrUnknownStyle       = fmt.Errorf("%w: unknown response style", ErrValidation)
	ErrInvalidMode        = fmt.Errorf("%w: unknown settings mode", ErrValidation)
)

// State errors.
var (
	ErrBusy            = errors.New("a response is still being generated")
	ErrNoActiveChat    = errors.New("no active chat")
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrClosed          = errors.New("store is closed")
)

// fallbackError is shown when a generation failure carries no message.
const fallbackError = "Failed to send message"

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return fallbackError
	}
	return err.Error()
}
