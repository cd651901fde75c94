// Package notifsvc delivers engine notifications: each one is persisted as an
// in-app message and mirrored to the user's mailbox. Delivery is fire and
// forget; the progress engine never blocks on (or fails because of) it.
package notifsvc

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/trezcool/karibu/core"
)

type service struct {
	repo      core.NotificationRepository
	mailSvc   core.EmailService
	userEmail func(userID string) (mail.Address, bool)
	logger    core.Logger
}

var _ core.NotificationService = (*service)(nil)

// NewService wires the sink. userEmail resolves a user id to their address via
// the identity provider; it may be nil, in which case no email copy is sent.
func NewService(repo core.NotificationRepository, mailSvc core.EmailService, userEmail func(userID string) (mail.Address, bool), logger core.Logger) *service {
	return &service{repo: repo, mailSvc: mailSvc, userEmail: userEmail, logger: logger}
}

func (svc *service) Send(ctx context.Context, notif core.Notification) {
	if _, err := svc.repo.CreateNotification(ctx, notif); err != nil {
		svc.logger.Error(fmt.Sprintf("notification: persisting for user %s: %v", notif.UserID, err), err)
		// fall through: the email copy may still make it
	}

	if svc.userEmail == nil {
		return
	}
	addr, ok := svc.userEmail(notif.UserID)
	if !ok {
		svc.logger.Warn(fmt.Sprintf("notification: no email address for user %s", notif.UserID))
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:          []mail.Address{addr},
		Subject:     notif.Message,
		TextContent: notif.Message + "\n\n" + notif.Link,
	})
}
