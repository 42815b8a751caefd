package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

const (
	defaultPageLength  = 5
	defaultSinkTimeout = 5 * time.Second
)

// Logger writes audit entries to the Repo and fans them out to sinks.
type Logger struct {
	repo        Repo
	resolver    CountryResolver
	sinks       []Sink
	sinkTimeout time.Duration
	pageLength  int
	nowFunc     func() time.Time
}

type LoggerOption func(*Logger)

func WithCountryResolver(r CountryResolver) LoggerOption {
	return func(l *Logger) {
		if r != nil {
			l.resolver = r
		}
	}
}

func WithSinks(sinks ...Sink) LoggerOption {
	return func(l *Logger) {
		l.sinks = append(l.sinks, sinks...)
	}
}

func WithSinkTimeout(d time.Duration) LoggerOption {
	return func(l *Logger) {
		if d > 0 {
			l.sinkTimeout = d
		}
	}
}

func WithPageLength(n int) LoggerOption {
	return func(l *Logger) {
		if n > 0 {
			l.pageLength = n
		}
	}
}

func WithNowFunc(now func() time.Time) LoggerOption {
	return func(l *Logger) {
		l.nowFunc = now
	}
}

func NewLogger(repo Repo, options ...LoggerOption) *Logger {
	l := &Logger{
		repo:        repo,
		resolver:    noCountry,
		sinkTimeout: defaultSinkTimeout,
		pageLength:  defaultPageLength,
		nowFunc:     time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Sinks returns the configured sinks, for the heartbeat loop.
func (l *Logger) Sinks() []Sink {
	return l.sinks
}

// Add writes the event to the Repo and every accepting sink concurrently. Only the
// Repo result is returned; a sink failure is logged and dropped.
func (l *Logger) Add(ctx context.Context, ev Event) (*Entry, error) {
	entry := &Entry{
		ID:        uuid.New().String(),
		UserID:    ev.UserID,
		IP:        ev.IP,
		Country:   l.resolver.Country(ev.IP),
		Object:    ev.Object,
		Action:    ev.Action,
		Attribute: ev.Attribute,
		Page:      ev.Page,
		Created:   l.nowFunc().UTC(),
	}

	var g errgroup.Group
	g.Go(func() error {
		return l.repo.Add(ctx, entry)
	})
	for _, sink := range l.sinks {
		if !sink.Accepts(entry) {
			continue
		}
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.sinkTimeout)
			defer cancel()
			if err := sink.Send(sendCtx, entry); err != nil {
				log.Warn().Err(err).Str("sink", sink.Name()).Str("object", string(entry.Object)).Msg("audit sink send failed")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Err(err).Str("object", string(entry.Object)).Str("action", string(entry.Action)).Msg("audit write failed")
		return nil, apperrors.Internal("Could not write audit log", err)
	}
	return entry, nil
}

// List returns one page of the user's entries, newest first. Pages start at 0.
func (l *Logger) List(ctx context.Context, userID string, page int) ([]*Entry, error) {
	if page < 0 {
		page = 0
	}
	entries, err := l.repo.ListByUser(ctx, userID, page*l.pageLength, l.pageLength)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Logger.List]")
	}
	return entries, nil
}

// Report flags an entry as suspicious. Entries of other users look exactly like missing ones.
func (l *Logger) Report(ctx context.Context, userID, entryID, ip string) error {
	if entryID == "" {
		return apperrors.ValidationField("id", "No ID provided")
	}
	entry, err := l.repo.Get(ctx, entryID)
	if err != nil || entry.UserID != userID {
		return apperrors.NotFound("Audit ID does not exist")
	}
	_, err = l.Add(ctx, Event{UserID: userID, IP: ip, Object: ObjectSession, Action: ActionReport, Attribute: entryID})
	return err
}
