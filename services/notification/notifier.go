package notifsvc

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/mzazilink/backend/core"
	"github.com/mzazilink/backend/core/link"
)

// EmailNotifier delivers confirmation codes over email. Non-email methods
// (SMS is planned but has no provider yet) are logged and dropped.
type EmailNotifier struct {
	appName string
	mailSvc core.EmailService
	logger  core.Logger
}

var _ link.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(conf *core.Config, mailSvc core.EmailService, logger core.Logger) *EmailNotifier {
	return &EmailNotifier{
		appName: conf.AppName,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

func (n *EmailNotifier) SendConfirmationCode(method, code string, expiresAt time.Time) {
	if !strings.Contains(method, "@") {
		n.logger.Warn("unsupported confirmation method " + method + "; code not delivered")
		return
	}

	body := fmt.Sprintf(
		"Your %s confirmation code is %s.\n\n"+
			"Enter it to confirm the link to your child's profile. "+
			"The code expires on %s.\n\n"+
			"If you did not expect this, contact the school office.",
		n.appName, code, expiresAt.Format(time.RFC1123),
	)
	n.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Address: method}},
		Subject: "Confirm your guardian link",
		BodyStr: body,
	})
}
