package services

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"carmarket-ingest/models"
	"carmarket-ingest/utils"
)

// Notifier receives structured run summaries and onboarding events. The
// engine's obligation ends at these calls; formatting and delivery are the
// collaborator's problem.
type Notifier interface {
	RunFinished(il *models.ImportLog)
	DealerOnboarded(d *models.Dealer)
}

// EmailNotifier formats operator mails and hands them to an SMTP relay.
// With no SMTP host configured it degrades to logging the summary, which
// keeps local runs and tests quiet about delivery.
type EmailNotifier struct {
	host   string
	port   string
	from   string
	admins []string
	logger *utils.Logger
}

// NewEmailNotifier creates an EmailNotifier. host may be empty.
func NewEmailNotifier(host, port, from string, admins []string, logger *utils.Logger) *EmailNotifier {
	return &EmailNotifier{host: host, port: port, from: from, admins: admins, logger: logger}
}

// RunFinished sends the per-run summary to the admin list. Failed and
// partial runs always go out; clean successes do too, as the operators'
// heartbeat that ingestion is alive.
func (n *EmailNotifier) RunFinished(il *models.ImportLog) {
	subject := fmt.Sprintf("[ingest] %s run %s — %d in / %d up / %d off",
		il.Source, il.Status, il.Inserted, il.Updated, il.Deactivated)
	n.send(subject, formatRunSummary(il), n.admins)
}

// DealerOnboarded sends the activation mail for a freshly created dealer
// and notifies the admin list.
func (n *EmailNotifier) DealerOnboarded(d *models.Dealer) {
	body := fmt.Sprintf(
		"Welcome to the marketplace.\n\n"+
			"Your dealer account %q has been created from your first feed submission.\n"+
			"Activation token: %s\n\n"+
			"Listings beyond the free allowance require an active subscription.\n",
		d.AccountID, d.ActivationToken)

	to := n.admins
	if d.Email != "" {
		to = append([]string{d.Email}, n.admins...)
	}
	n.send(fmt.Sprintf("[ingest] new dealer %s", d.AccountID), body, to)
}

func (n *EmailNotifier) send(subject, body string, to []string) {
	if n.host == "" || len(to) == 0 {
		n.logger.Info("[notify] %s", subject)
		n.logger.Debug("[notify] body:\n%s", body)
		return
	}

	msg := []byte("From: " + n.from + "\r\n" +
		"To: " + strings.Join(to, ", ") + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" + body)

	addr := n.host + ":" + n.port
	if err := smtp.SendMail(addr, nil, n.from, to, msg); err != nil {
		// Notification failures never fail a run.
		n.logger.Error("[notify] send %q failed: %v", subject, err)
	}
}

// formatRunSummary renders the operator-facing plain-text run report.
func formatRunSummary(il *models.ImportLog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source:       %s\n", il.Source)
	fmt.Fprintf(&b, "Status:       %s\n", il.Status)
	fmt.Fprintf(&b, "Duration:     %s\n", il.Duration().Round(time.Second))
	fmt.Fprintf(&b, "Total rows:   %d\n", il.TotalRows)
	fmt.Fprintf(&b, "Inserted:     %d\n", il.Inserted)
	fmt.Fprintf(&b, "Updated:      %d\n", il.Updated)
	fmt.Fprintf(&b, "Deactivated:  %d\n", il.Deactivated)
	fmt.Fprintf(&b, "Skipped:      %d\n", il.Skipped)
	if il.DealersProcessed > 0 {
		fmt.Fprintf(&b, "Dealers:      %d processed, %d created\n", il.DealersProcessed, il.DealersCreated)
	}
	if il.TotalErrors > 0 {
		fmt.Fprintf(&b, "\nErrors (%d total, first %d shown):\n", il.TotalErrors, len(il.Errors))
		for _, e := range il.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	return b.String()
}
