package model

import "errors"

// ErrConversationNotFound is returned when no working state exists for a
// conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrDrugNotFound is returned when a formulary lookup falls below the
// similarity-confidence threshold.
var ErrDrugNotFound = errors.New("drug not found in formulary")
