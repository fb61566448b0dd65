package dmanode

import (
	"github.com/pkg/errors"
)

var (
	// ErrNoSpace is returned by the byte writers when the data does not fit into the free space of the node.
	ErrNoSpace = errors.New("not enough free space in the node")

	// ErrInFlight is returned (or used as a panic value) when the node is leased to an external writer.
	ErrInFlight = errors.New("node has a transfer in flight")

	ErrClosed     = errors.New("node is closed")
	ErrLeaseEnded = errors.New("lease has already ended")
)
