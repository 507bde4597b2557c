package client

import (
	"errors"
	"net/http"
	"strings"

	"github.com/disgoorg/disgo/rest"
)

// statusCode extracts the HTTP status from a disgo REST error, or 0 if the
// error did not come from the REST layer.
func statusCode(err error) int {
	var restErr *rest.Error
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}
	return 0
}

// IsPermissionDenied reports whether the platform rejected the call with a
// 403. Channels the bot cannot read contribute nothing to a history fetch
// rather than failing it.
func IsPermissionDenied(err error) bool {
	return statusCode(err) == http.StatusForbidden
}

// IsNotFound reports whether the platform answered 404, e.g. a member
// lookup for a user who has left the guild.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// IsUnsupportedChannelType reports whether the platform rejected an
// archived-thread listing because the channel type does not support it
// (forum channels answer 400 here).
func IsUnsupportedChannelType(err error) bool {
	if statusCode(err) != http.StatusBadRequest {
		return false
	}
	var restErr *rest.Error
	return errors.As(err, &restErr) &&
		strings.Contains(restErr.Message, "Cannot execute action on this channel type")
}
