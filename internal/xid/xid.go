package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random identifier carrying a short type prefix, e.g.
// "order-7c9e6679-7425-40de-944b-e07fc1f90ae7".
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
