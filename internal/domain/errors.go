package domain

import "errors"

var (
	ErrAmbiguousDefault    = errors.New("mongoose.url and mongoose.urls.default are both set")
	ErrOptionsWithoutURL   = errors.New("mongoose.connectionOptions requires mongoose.url")
	ErrDuplicateConnection = errors.New("duplicate connection name")
	ErrInvalidConnection   = errors.New("invalid connection target")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrConnectionExists    = errors.New("connection already open with a different url")

	ErrInvalidMetadata   = errors.New("invalid handler metadata")
	ErrMissingParameter  = errors.New("parameter position not described")
	ErrDuplicateHandler  = errors.New("handler already registered")
	ErrUnknownEvent      = errors.New("no handler for event")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrStopPropagation   = errors.New("stop propagation")
	ErrInvalidPacket     = errors.New("invalid packet")
	ErrInvalidArgument   = errors.New("invalid handler argument")
	ErrAckAlreadySent    = errors.New("ack already sent")
	ErrNamespaceNotFound = errors.New("namespace not found")
)
