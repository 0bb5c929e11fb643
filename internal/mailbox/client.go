package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Config describes one monitored mailbox. Credentials come from the active
// requisite, not from static configuration, so rotating payment details
// also rotates the mailbox.
type Config struct {
	Host     string // optional; inferred from the address domain when empty
	Address  string
	Password string
	Folder   string
}

// Message is one unseen email, unparsed.
type Message struct {
	UID uint32
	Raw []byte
}

// Session is a logged-in IMAP connection with the folder selected.
type Session struct {
	c      *client.Client
	logger *slog.Logger
}

// Connect dials the IMAPS server, authenticates and selects the folder.
// Both auth and network failures are transient from the watcher's point of
// view; the caller retries with backoff.
func Connect(cfg Config, logger *slog.Logger) (*Session, error) {
	host := HostFor(cfg.Address, cfg.Host)
	if !strings.Contains(host, ":") {
		host += ":993"
	}

	c, err := client.DialTLS(host, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}

	if err := c.Login(cfg.Address, cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login %s: %w", cfg.Address, err)
	}

	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	return &Session{c: c, logger: logger}, nil
}

// SupportsIdle reports whether the server advertises the IDLE capability.
func (s *Session) SupportsIdle() bool {
	ok, err := s.c.Support("IDLE")
	if err != nil {
		s.logger.Debug("capability check failed", "error", err)
		return false
	}
	return ok
}

// FetchUnseen returns every unseen message in the selected folder without
// marking anything seen (BODY.PEEK). Messages stay unseen until the caller
// hands them back to MarkSeen after successful processing, which gives
// at-least-once delivery across crashes.
func (s *Session) FetchUnseen() ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, len(uids))
	if err := s.c.UidFetch(seqset, items, ch); err != nil {
		return nil, fmt.Errorf("fetch unseen: %w", err)
	}

	var msgs []Message
	for m := range ch {
		body := m.GetBody(section)
		if body == nil {
			s.logger.Warn("message without body section", "uid", m.Uid)
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read message %d: %w", m.Uid, err)
		}
		msgs = append(msgs, Message{UID: m.Uid, Raw: raw})
	}
	return msgs, nil
}

// MarkSeen flags the given messages as seen. Called only after the watcher
// finished processing them.
func (s *Session) MarkSeen(uids ...uint32) error {
	if len(uids) == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// Idle blocks until new mail arrives, the keepalive expires, or ctx is
// cancelled. The keepalive bound exists because mail servers silently drop
// long-idle connections; returning control lets the watcher renew liveness
// and re-enter. Any transport error is returned so the caller can fall
// back to polling.
func (s *Session) Idle(ctx context.Context, keepalive time.Duration) error {
	updates := make(chan client.Update, 16)
	s.c.Updates = updates
	defer func() { s.c.Updates = nil }()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.c.Idle(stop, &client.IdleOptions{LogoutTimeout: keepalive})
	}()

	timer := time.NewTimer(keepalive)
	defer timer.Stop()

	var stopped bool
	stopIdle := func() {
		if !stopped {
			close(stop)
			stopped = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopIdle()
			s.drain(updates, done)
			return ctx.Err()
		case <-timer.C:
			stopIdle()
			return s.drain(updates, done)
		case upd := <-updates:
			if _, ok := upd.(*client.MailboxUpdate); ok {
				stopIdle()
				return s.drain(updates, done)
			}
		case err := <-done:
			return err
		}
	}
}

// drain keeps the updates channel flowing until the idle goroutine exits,
// so the client's reader never blocks on an abandoned channel.
func (s *Session) drain(updates chan client.Update, done chan error) error {
	for {
		select {
		case <-updates:
		case err := <-done:
			return err
		}
	}
}

// Close logs out and drops the connection.
func (s *Session) Close() error {
	return s.c.Logout()
}

// HostFor returns the IMAP host for a mailbox address. An explicit
// override wins; otherwise well-known providers are recognized and the
// rest fall back to the imap. subdomain convention.
func HostFor(address, override string) string {
	if override != "" {
		return override
	}
	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return address
	}
	domain := strings.ToLower(address[at+1:])
	switch domain {
	case "gmail.com", "googlemail.com":
		return "imap.gmail.com"
	case "mail.ru", "bk.ru", "inbox.ru", "list.ru", "internet.ru":
		return "imap.mail.ru"
	case "yandex.ru", "yandex.com", "ya.ru":
		return "imap.yandex.com"
	case "outlook.com", "hotmail.com":
		return "outlook.office365.com"
	default:
		return "imap." + domain
	}
}
