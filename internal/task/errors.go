package task

import (
	apperrors "github.com/kandev/agentcore/internal/common/errors"
)

var errDescriptionTooLarge = apperrors.ValidationError("description", "description exceeds 100 KiB limit")
