// Package mail is the IMAP side of the inbox scanner: one short-lived
// session per scan cycle, fetching every unseen message's plain-text body.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/pkg/errors"

	"github.com/bartoszx/doordrop/internal/errkind"
)

// Message is a fetched email reduced to what extraction needs.
type Message struct {
	Subject string
	Body    string
}

type Client struct {
	host     string
	port     int
	username string
	password string
	mailbox  string

	dialTimeout time.Duration
}

func NewClient(host string, port int, username, password, mailbox string) *Client {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &Client{
		host:        host,
		port:        port,
		username:    username,
		password:    password,
		mailbox:     mailbox,
		dialTimeout: 30 * time.Second,
	}
}

// FetchUnseen opens a session, collects every UNSEEN message and logs out.
// Session-level failures (dial, login, select, search, fetch) come back as
// ErrMailUnavailable and abort the whole cycle; a single unparsable message
// is logged and skipped, the rest of the batch still comes through.
func (c *Client) FetchUnseen(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	dialer := &net.Dialer{Timeout: c.dialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, nil)
	if err != nil {
		return nil, errkind.Mail(errors.Wrap(err, "dial imap"))
	}

	cli := imapclient.New(conn, nil)
	defer cli.Close()

	if err := cli.Login(c.username, c.password).Wait(); err != nil {
		return nil, errkind.Mail(errors.Wrap(err, "imap login"))
	}

	if _, err := cli.Select(c.mailbox, nil).Wait(); err != nil {
		return nil, errkind.Mail(errors.Wrapf(err, "select %s", c.mailbox))
	}

	searchData, err := cli.Search(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, errkind.Mail(errors.Wrap(err, "search unseen"))
	}

	nums := searchData.AllSeqNums()
	if len(nums) == 0 {
		c.logout(cli)
		return nil, nil
	}

	section := &imap.FetchItemBodySection{}
	fetch := cli.Fetch(imap.SeqSetNum(nums...), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
	})
	bufs, err := fetch.Collect()
	if err != nil {
		return nil, errkind.Mail(errors.Wrap(err, "fetch messages"))
	}

	out := make([]Message, 0, len(bufs))
	for _, buf := range bufs {
		raw := buf.FindBodySection(section)
		if len(raw) == 0 {
			continue
		}
		subject, body, err := ExtractPlainText(raw)
		if err != nil {
			slog.Warn("skip unparsable message", "seq", buf.SeqNum, "error", err.Error())
			continue
		}
		if body == "" {
			// no text/plain part, nothing to extract from
			continue
		}
		out = append(out, Message{Subject: subject, Body: body})
	}

	c.logout(cli)
	return out, nil
}

func (c *Client) logout(cli *imapclient.Client) {
	if err := cli.Logout().Wait(); err != nil {
		slog.Warn("imap logout", "error", err.Error())
	}
}
