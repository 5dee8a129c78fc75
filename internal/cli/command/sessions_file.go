package command

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/clustersnap-go/internal/core/domain"
)

// sessionsFile is the YAML document read by "snapshot take":
//
//	sessions:
//	  - id: 1
//	    response_stream_id: 102
//	    response_channel: aeron:udp?endpoint=client:9000
//	    principal: alice
//	  - id: 2
//	    response_stream_id: 102
//	    response_channel: aeron:ipc
//	    principal_base64: AAEC
type sessionsFile struct {
	Sessions []sessionRecord `yaml:"sessions"`
}

type sessionRecord struct {
	ID               int64  `yaml:"id"`
	ResponseStreamID int32  `yaml:"response_stream_id"`
	ResponseChannel  string `yaml:"response_channel"`
	Principal        string `yaml:"principal"`
	PrincipalBase64  string `yaml:"principal_base64"`
}

func (r sessionRecord) session() (*domain.ClientSession, error) {
	var principal []byte
	switch {
	case r.Principal != "" && r.PrincipalBase64 != "":
		return nil, fmt.Errorf("session %d: principal and principal_base64 are exclusive", r.ID)
	case r.Principal != "":
		principal = []byte(r.Principal)
	case r.PrincipalBase64 != "":
		b, err := base64.StdEncoding.DecodeString(r.PrincipalBase64)
		if err != nil {
			return nil, fmt.Errorf("session %d: principal_base64: %w", r.ID, err)
		}
		principal = b
	}
	return domain.NewClientSession(r.ID, r.ResponseStreamID, r.ResponseChannel, principal)
}

// readSessionsFile reads sessions from path, or stdin when path is "-".
// Unknown keys and duplicate ids are rejected.
func readSessionsFile(path string, stdin io.Reader) ([]*domain.ClientSession, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}

	var doc sessionsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse sessions %s: %w", path, err)
	}

	seen := make(map[int64]struct{}, len(doc.Sessions))
	sessions := make([]*domain.ClientSession, 0, len(doc.Sessions))
	for _, rec := range doc.Sessions {
		if _, dup := seen[rec.ID]; dup {
			return nil, fmt.Errorf("parse sessions %s: duplicate session id %d", path, rec.ID)
		}
		seen[rec.ID] = struct{}{}

		s, err := rec.session()
		if err != nil {
			return nil, fmt.Errorf("parse sessions %s: %w", path, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}
