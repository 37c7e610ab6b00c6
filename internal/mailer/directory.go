package mailer

import (
	"context"
	"fmt"
	"strings"
)

// Directory resolves a platform user id to an email address. The user
// table itself belongs to the platform, not this service; deployments
// wire whichever lookup they have.
type Directory interface {
	EmailFor(ctx context.Context, userID string) (string, error)
}

// DomainDirectory is the default directory: platform user ids are the
// local part of the corporate address.
type DomainDirectory struct {
	Domain string
}

func (d DomainDirectory) EmailFor(_ context.Context, userID string) (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", fmt.Errorf("empty user id")
	}
	if strings.Contains(id, "@") {
		// Already a full address (external collaborator).
		return id, nil
	}
	domain := strings.TrimSpace(d.Domain)
	if domain == "" {
		return "", fmt.Errorf("mail domain not configured")
	}
	return id + "@" + domain, nil
}
