package channels

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Fatal(t *testing.T) {
	for code, fatal := range map[int]bool{401: true, 404: true, 409: true, 400: false, 429: false, 502: false} {
		e := &APIError{Method: "getUpdates", Code: code}
		assert.Equal(t, fatal, e.Fatal(), code)
	}
}

func TestAPIError_As(t *testing.T) {
	err := fmt.Errorf("poll: %w", &APIError{Method: "getMe", Code: 401, Description: "Unauthorized"})
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "getMe: 401 Unauthorized", apiErr.Error())
}
