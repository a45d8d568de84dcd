package migrations

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

// Server error codes tolerated by the migrations.
const (
	codeNamespaceNotFound     = 26
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// isIndexExistsError reports whether err means the index is already in
// place, so index creation stays idempotent after a partial run.
func isIndexExistsError(err error) bool {
	if err == nil {
		return false
	}
	if hasServerCode(err, codeIndexOptionsConflict, codeIndexKeySpecsConflict) {
		return true
	}
	return mongo.IsDuplicateKeyError(err) ||
		strings.Contains(err.Error(), "already exists")
}

// isNamespaceNotFoundError reports whether err means the collection does
// not exist. Down migrations dropping indexes hit it on fresh databases.
func isNamespaceNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return hasServerCode(err, codeNamespaceNotFound) ||
		strings.Contains(err.Error(), "ns not found")
}

func hasServerCode(err error, codes ...int32) bool {
	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	for _, code := range codes {
		if cmdErr.Code == code {
			return true
		}
	}
	return false
}
