package impl

import (
	"errors"
	"fmt"

	"chatroom/internal/domain"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 8
)

var (
	ErrEmptyCredential = fmt.Errorf("%w: username and password are required", domain.ErrInvalidInput)
	ErrUsernameLength  = fmt.Errorf("%w: username must be %d-%d characters", domain.ErrInvalidInput, minUsernameLen, maxUsernameLen)
	ErrPasswordLength  = fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLen)
	ErrEmptyPassword   = errors.New("empty password")
)
