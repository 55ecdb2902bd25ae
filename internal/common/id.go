package common

import (
	"github.com/google/uuid"
)

// NewDeliveryToken generates an opaque queue lease token
func NewDeliveryToken() string {
	return uuid.New().String()
}
