package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

// channel is one way of reaching a candidate.
type channel interface {
	Name() string
	NotifyPaired(ctx context.Context, to matching.Contact, partnerName string) error
	NotifyMutualInterest(ctx context.Context, to matching.Contact, partner profileCard) error
}

var errNoAddress = errors.New("no email address")

var (
	pairedTemplate = template.Must(template.New("paired").Parse(`<p>hey! you've been matched with <strong>{{.Partner}}</strong> this week.</p>
<p>head to <a href="{{.Link}}">{{.Site}}</a> to see their preview and decide if you're down.</p>
<p>- match-round</p>
`))

	mutualTemplate = template.Must(template.New("mutual").Parse(`<p>good news - you and <strong>{{.Partner}}</strong> are both down!</p>
<p>their photo and instagram are now unlocked. reach out and make it happen.</p>
{{if .Instagram}}<p>instagram: <strong>{{.Instagram}}</strong></p>
{{end}}<p>check it out at <a href="{{.Link}}">{{.Site}}</a></p>
<p>- match-round</p>
`))
)

type mailData struct {
	Partner   string
	Instagram string
	Link      string
	Site      string
}

// mailer sends notification emails over SMTP. Sends go through a circuit
// breaker that opens after consecutive failures.
type mailer struct {
	send    func(*gomail.Message) error
	from    string
	siteURL string
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func newMailer(cfg SMTPConfig, siteURL string, br BreakerConfig, log *zap.Logger) *mailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	return newMailerWithSender(d.DialAndSend, cfg.From, siteURL, br, log)
}

func newMailerWithSender(send func(...*gomail.Message) error, from, siteURL string, br BreakerConfig, log *zap.Logger) *mailer {
	failures := br.Failures
	if failures == 0 {
		failures = 5
	}
	return &mailer{
		send:    func(m *gomail.Message) error { return send(m) },
		from:    from,
		siteURL: strings.TrimRight(siteURL, "/"),
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "smtp",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     br.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

func (m *mailer) Name() string { return "email" }

func (m *mailer) NotifyPaired(ctx context.Context, to matching.Contact, partnerName string) error {
	return m.deliver(ctx, to, "you got a match on match-round!", pairedTemplate, mailData{Partner: partnerName})
}

func (m *mailer) NotifyMutualInterest(ctx context.Context, to matching.Contact, partner profileCard) error {
	return m.deliver(ctx, to, "your match is down too!", mutualTemplate, mailData{
		Partner:   partner.DisplayName,
		Instagram: partner.Instagram,
	})
}

func (m *mailer) deliver(ctx context.Context, to matching.Contact, subject string, tpl *template.Template, data mailData) error {
	if strings.TrimSpace(to.Email) == "" {
		return errNoAddress
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data.Link = m.siteURL + "/match"
	data.Site = strings.TrimPrefix(strings.TrimPrefix(m.siteURL, "https://"), "http://")
	var body strings.Builder
	if err := tpl.Execute(&body, data); err != nil {
		return fmt.Errorf("rendering %s: %w", tpl.Name(), err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to.Email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body.String())

	_, err := m.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, m.send(msg)
	})
	return err
}

// fanout delivers every notification on all channels. A failing channel
// does not stop the others; their errors are joined.
type fanout struct {
	channels []channel
}

func newFanout(channels ...channel) *fanout {
	return &fanout{channels: channels}
}

func (f *fanout) NotifyPaired(ctx context.Context, to matching.Contact, partnerName string) error {
	var errs []error
	for _, c := range f.channels {
		err := c.NotifyPaired(ctx, to, partnerName)
		countNotification(c.Name(), "paired", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) NotifyMutualInterest(ctx context.Context, to matching.Contact, partner profileCard) error {
	var errs []error
	for _, c := range f.channels {
		err := c.NotifyMutualInterest(ctx, to, partner)
		countNotification(c.Name(), "mutual_interest", err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func countNotification(name, kind string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "breaker_open"
	case errors.Is(err, errNoAddress):
		result = "skipped"
	case err != nil:
		result = "error"
	}
	notificationsTotal.WithLabelValues(name, kind, result).Inc()
}
