package imap

import (
	"context"
	"strconv"
	"strings"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"
	"github.com/pkg/errors"
)

// CONDSTORE (RFC 7162) is not modeled by the client library, so the two
// commands the sync path needs are issued raw: STATUS (HIGHESTMODSEQ) and
// UID SEARCH MODSEQ.

type statusModSeqResponse struct {
	modSeq uint64
}

func (r *statusModSeqResponse) Handle(resp goimap.Resp) error {
	name, fields, ok := goimap.ParseNamedResp(resp)
	if !ok || name != "STATUS" {
		return responses.ErrUnhandled
	}
	if len(fields) < 2 {
		return errors.New("malformed STATUS response")
	}
	items, ok := fields[1].([]interface{})
	if !ok {
		return errors.New("malformed STATUS response items")
	}
	for i := 0; i+1 < len(items); i += 2 {
		key, err := goimap.ParseString(items[i])
		if err != nil {
			continue
		}
		if strings.EqualFold(key, "HIGHESTMODSEQ") {
			value, err := goimap.ParseString(items[i+1])
			if err != nil {
				return errors.Wrap(err, "malformed HIGHESTMODSEQ value")
			}
			modSeq, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return errors.Wrap(err, "malformed HIGHESTMODSEQ value")
			}
			r.modSeq = modSeq
		}
	}
	return nil
}

// statusHighestModSeq fetches HIGHESTMODSEQ for a folder. Callers gate on
// the CONDSTORE capability first. Must run under the session command lock.
func (s *Session) statusHighestModSeq(folder string) (uint64, error) {
	cmd := &goimap.Command{
		Name: "STATUS",
		Arguments: []interface{}{
			folder,
			[]interface{}{goimap.RawString("HIGHESTMODSEQ")},
		},
	}
	res := new(statusModSeqResponse)

	status, err := s.cl.Execute(cmd, res)
	if err != nil {
		return 0, err
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	return res.modSeq, nil
}

// SearchChangedSince returns UIDs of messages whose mod-sequence is higher
// than modSeq, which covers both new arrivals and flag changes.
func (s *Session) SearchChangedSince(ctx context.Context, modSeq uint64) ([]uint32, error) {
	if !s.caps[CapabilityCondStore] {
		return nil, errors.New("server does not advertise CONDSTORE")
	}

	var uids []uint32
	err := s.run(func() error {
		cmd := &goimap.Command{
			Name: "UID SEARCH",
			Arguments: []interface{}{
				goimap.RawString("MODSEQ"),
				goimap.RawString(strconv.FormatUint(modSeq, 10)),
			},
		}
		res := new(responses.Search)

		status, err := s.cl.Execute(cmd, res)
		if err != nil {
			return err
		}
		if err := status.Err(); err != nil {
			return err
		}
		uids = res.Ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}
