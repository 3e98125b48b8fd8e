package oauth

import (
	"strings"
	"time"
)

// DefaultMargin is subtracted from the provider's token lifetime so a token is
// never presented right at its expiry.
const DefaultMargin = time.Minute

// Declaration defines the OAuth contract a plugin must provide.
type Declaration struct {
	Provider string
	TokenURL string
	Scope    string
	Margin   time.Duration
}

func (d Declaration) scopes() []string {
	return strings.Fields(d.Scope)
}

func (d Declaration) margin() time.Duration {
	if d.Margin < 0 {
		return 0
	}
	if d.Margin == 0 {
		return DefaultMargin
	}
	return d.Margin
}
