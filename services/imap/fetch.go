package imap

import (
	"bytes"
	"context"
	"io"
	"sort"

	goimap "github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/mailwatchhq/mailwatch/interfaces"
)

// Header fields fetched alongside the envelope. The envelope carries the
// address lists already parsed; the raw fields are kept for References,
// which the envelope does not expose, and for encoded-word decoding.
const metaHeaderFields = "BODY.PEEK[HEADER.FIELDS (SUBJECT MESSAGE-ID IN-REPLY-TO REFERENCES)]"

// FetchMeta pulls header metadata for the given UIDs. Bodies are never
// fetched. Results come back sorted by UID ascending regardless of server
// response order.
func (s *Session) FetchMeta(ctx context.Context, uids []uint32) ([]*interfaces.MessageMeta, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	section, err := goimap.ParseBodySectionName(goimap.FetchItem(metaHeaderFields))
	if err != nil {
		return nil, err
	}

	var metas []*interfaces.MessageMeta
	err = s.run(func() error {
		seqset := new(goimap.SeqSet)
		seqset.AddNum(uids...)

		items := []goimap.FetchItem{
			goimap.FetchEnvelope,
			goimap.FetchFlags,
			goimap.FetchInternalDate,
			goimap.FetchRFC822Size,
			goimap.FetchUid,
			section.FetchItem(),
		}

		ch := make(chan *goimap.Message, len(uids))
		done := make(chan error, 1)
		go func() {
			done <- s.cl.UidFetch(seqset, items, ch)
		}()

		for msg := range ch {
			metas = append(metas, messageMeta(msg, section))
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].UID < metas[j].UID })
	return metas, nil
}

func messageMeta(msg *goimap.Message, section *goimap.BodySectionName) *interfaces.MessageMeta {
	meta := &interfaces.MessageMeta{
		UID:          msg.Uid,
		InternalDate: msg.InternalDate,
		Size:         msg.Size,
		Flags:        msg.Flags,
	}

	if env := msg.Envelope; env != nil {
		meta.Subject = env.Subject
		meta.MessageID = env.MessageId
		meta.InReplyTo = env.InReplyTo
		meta.From = formatAddresses(env.From)
		meta.To = formatAddresses(env.To)
		meta.Cc = formatAddresses(env.Cc)
		meta.Bcc = formatAddresses(env.Bcc)
	}

	if literal := msg.GetBody(section); literal != nil {
		applyHeaderFields(meta, literal)
	}

	return meta
}

// applyHeaderFields overlays the raw header fields onto the envelope values.
// The parser decodes encoded-words and unfolds continuation lines, which the
// envelope subject may still carry verbatim on some servers.
func applyHeaderFields(meta *interfaces.MessageMeta, literal io.Reader) {
	raw, err := io.ReadAll(literal)
	if err != nil {
		return
	}
	// A header-only literal may arrive without the terminating blank line.
	raw = append(raw, '\r', '\n', '\r', '\n')

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return
	}

	if subject := env.GetHeader("Subject"); subject != "" {
		meta.Subject = subject
	}
	if messageID := env.GetHeader("Message-Id"); messageID != "" {
		meta.MessageID = messageID
	}
	if inReplyTo := env.GetHeader("In-Reply-To"); inReplyTo != "" {
		meta.InReplyTo = inReplyTo
	}
	meta.References = env.GetHeader("References")
}

func formatAddresses(addresses []*goimap.Address) []string {
	if len(addresses) == 0 {
		return nil
	}
	out := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if addr.MailboxName == "" || addr.HostName == "" {
			continue
		}
		out = append(out, addr.Address())
	}
	return out
}
