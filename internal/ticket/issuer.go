// Package ticket issues calendar/ticket artifacts for approved registrations:
// an ICS calendar payload and an HMAC-signed check-in token. Issuance is best
// effort relative to the lifecycle transition that triggers it.
package ticket

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/campuskit/eventreg/internal/domain"
)

type Issuer struct {
	secret []byte
	now    func() time.Time
}

// Ticket is the issued artifact pair.
type Ticket struct {
	CalendarPayload string
	CheckinToken    string
}

func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, now: time.Now}
}

// NewIssuerAt pins the issuance clock. Used in tests.
func NewIssuerAt(secret []byte, now func() time.Time) *Issuer {
	return &Issuer{secret: secret, now: now}
}

// Issue builds the calendar payload and check-in token for an approved
// registration. The start instant combines the event date with its textual
// start time of day; an unparseable end time defaults to start plus one hour.
// An unparseable start time fails the whole issuance.
func (i *Issuer) Issue(event *domain.Event, reg *domain.Registration) (*Ticket, error) {
	startMin, err := domain.ParseClock(event.StartTime)
	if err != nil {
		return nil, errors.Wrap(err, "event start time")
	}
	start := atMinute(event.Date, startMin)

	end := start.Add(time.Hour)
	if endMin, err := domain.ParseClock(event.EndTime); err == nil {
		end = atMinute(event.Date, endMin)
	}

	token, err := i.signToken(reg.ID)
	if err != nil {
		return nil, errors.Wrap(err, "sign check-in token")
	}

	return &Ticket{
		CalendarPayload: buildICS(event, reg, start, end, i.now()),
		CheckinToken:    token,
	}, nil
}

func (i *Issuer) signToken(registrationID uuid.UUID) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:  registrationID.String(),
		IssuedAt: jwt.NewNumericDate(now),
		ID:       uuid.New().String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks a presented check-in token and returns the registration id
// and issuance time it encodes.
func (i *Issuer) Verify(token string) (uuid.UUID, time.Time, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, time.Time{}, errors.Wrap(err, "token subject")
	}
	var issued time.Time
	if claims.IssuedAt != nil {
		issued = claims.IssuedAt.Time
	}
	return id, issued, nil
}

func atMinute(date time.Time, min int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), min/60, min%60, 0, 0, date.Location())
}

const icsTimestamp = "20060102T150405Z"

func buildICS(event *domain.Event, reg *domain.Registration, start, end, stamp time.Time) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//campuskit//eventreg//EN\r\n")
	b.WriteString("BEGIN:VEVENT\r\n")
	b.WriteString("UID:" + reg.ID.String() + "@eventreg\r\n")
	b.WriteString("DTSTAMP:" + stamp.UTC().Format(icsTimestamp) + "\r\n")
	b.WriteString("DTSTART:" + start.UTC().Format(icsTimestamp) + "\r\n")
	b.WriteString("DTEND:" + end.UTC().Format(icsTimestamp) + "\r\n")
	b.WriteString("SUMMARY:" + escapeICS(event.Title) + "\r\n")
	if event.Description != "" {
		b.WriteString("DESCRIPTION:" + escapeICS(event.Description) + "\r\n")
	}
	if event.Location != "" {
		b.WriteString("LOCATION:" + escapeICS(event.Location) + "\r\n")
	}
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

// escapeICS escapes text per RFC 5545 section 3.3.11.
func escapeICS(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n")
	return r.Replace(s)
}
