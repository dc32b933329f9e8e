package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNoImageSlot      = errors.New("workflow has no image input slot")
	ErrNoSeedSlot       = errors.New("workflow has no seed input slot")
	ErrPayloadTooLarge  = errors.New("serialized request exceeds the size ceiling; switch image transport to url mode")
	ErrBadCheckpoint    = errors.New("resolved checkpoint belongs to an audio model family")
	ErrMissingJobID     = errors.New("provider response carries no job id")
	ErrDuplicateEvent   = errors.New("webhook event already processed")
	ErrProviderFailure  = errors.New("provider failure")
	ErrInvalidImage     = errors.New("invalid source image")
	ErrLoopbackCallback = errors.New("public base url resolves to loopback; provider cannot reach the webhook")
)
