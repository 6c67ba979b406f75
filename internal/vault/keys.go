package vault

import (
	"fmt"
	"strings"

	"anyback-go/internal/anyback"
)

// validKey rejects keys that could escape a vault root or prefix.
func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".tmp-") {
		return fmt.Errorf("%w: vault key %q", anyback.ErrInvalid, key)
	}
	return nil
}
