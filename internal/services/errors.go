// Package services defines the business logic for notification delivery and
// chat persistence. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// Translation into user-facing messages, acknowledgement payloads or HTTP
// status codes is performed by the realtime gateway and the HTTP handlers.
package services

import (
	"errors"

	"github.com/tbourn/go-shop-relay/internal/push"
)

var (
	// ErrUserNotFound is returned when a delivery key resolves to no user.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoPushToken indicates the recipient has no registered device token.
	// It is a soft failure: the notification is already persisted.
	ErrNoPushToken = errors.New("no token")

	// ErrEmptyMessage is returned when a notification or chat body is blank.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMissingRecipient is returned when no recipient identity was given.
	ErrMissingRecipient = errors.New("recipient is required")

	// ErrMissingToken is returned when a blank device token is submitted.
	ErrMissingToken = errors.New("device token is required")

	// ErrNotRegistered is returned when a connection acts before registering.
	ErrNotRegistered = errors.New("sender is not registered")

	// ErrNotificationNotFound indicates the requested notification does not exist.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrPushDisabled mirrors push.ErrDisabled so callers can match it
	// without importing the push package.
	ErrPushDisabled = push.ErrDisabled
)
