// Package services holds the prediction result synchronizer, the history
// aggregator and the home/playlist views. This file centralizes validation
// errors returned before any remote call is made.
//
// Every operation returns *apperror.Error values (see internal/apperror).
// The sentinels below cover malformed caller input; they are wrapped in
// apperror.KindInvalidInput and still match with errors.Is.
package services

import (
	"errors"

	"github.com/tbourn/wellness-sync/internal/apperror"
)

var (
	// ErrUnknownDomain is returned for a domain name without a storage binding.
	ErrUnknownDomain = errors.New("unknown prediction domain")

	// ErrEmptyForm is returned when a submit carries no form fields.
	ErrEmptyForm = errors.New("form is empty")

	// ErrEmptyAttachment is returned when an emotion submit carries no data.
	ErrEmptyAttachment = errors.New("attachment is empty")

	// ErrInvalidSource is returned for an emotion source other than face or audio.
	ErrInvalidSource = errors.New("emotion source must be face or audio")
)

// invalid tags a validation sentinel with apperror.KindInvalidInput.
func invalid(err error) error { return apperror.InvalidInput(err) }
